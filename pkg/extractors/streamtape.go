package extractors

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"

	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/types"
)

const streamtapeEmbedBase = "https://streamtape.com/e/"

var (
	streamtapeLinkRegex      = regexp.MustCompile(`document\.getElementById\('robotlink'\)\.innerHTML\s*=\s*([^;\n]+)`)
	streamtapeSubstringRegex = regexp.MustCompile(`\.substring\((\d+)\)`)
)

// streamtapeEvalTimeout bounds evaluation of the page's link expression.
var streamtapeEvalTimeout = time.Second

// StreamtapeExtractor extracts streams from Streamtape.
type StreamtapeExtractor struct {
	*BaseExtractor
	log *logging.Logger
}

// NewStreamtapeExtractor creates a new Streamtape extractor.
func NewStreamtapeExtractor(fetcher interfaces.Fetcher, log *logging.Logger) *StreamtapeExtractor {
	return &StreamtapeExtractor{
		BaseExtractor: NewBaseExtractor(fetcher, log),
		log:           log.WithComponent("streamtape-extractor"),
	}
}

// Name returns the extractor name.
func (e *StreamtapeExtractor) Name() string {
	return "streamtape"
}

// CanExtract returns true for Streamtape hints or URLs.
func (e *StreamtapeExtractor) CanExtract(target types.Target) bool {
	return keywordRule{hint: []string{"streamtape"}, url: []string{"streamtape."}}.match(target)
}

// Extract rebuilds the get_video link that the page assembles into #robotlink.
func (e *StreamtapeExtractor) Extract(ctx context.Context, req types.ExtractRequest) ([]types.StreamCandidate, error) {
	pageURL, err := canonicalStreamtapeURL(req.URL)
	if err != nil {
		return nil, err
	}

	resp, err := e.GetPage(ctx, pageURL, req.Headers)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}

	m := streamtapeLinkRegex.FindStringSubmatch(resp.Text())
	if m == nil {
		return nil, fmt.Errorf("streamtape robotlink: %w", ErrNotFound)
	}
	expr := strings.TrimSpace(m[1])

	link, err := evalStringExpression(expr)
	if err != nil {
		e.log.Debug("expression evaluation failed, using string fallback", "error", err)
		link = concatStreamtapeLink(expr)
	}

	streamURL := "https:" + strings.TrimPrefix(link, "https:")
	return KeepValid([]types.StreamCandidate{{
		URL:     streamURL,
		Label:   Label("Streamtape", req.Quality),
		Headers: types.CloneHeaders(req.Headers, "Referer", pageURL),
	}}), nil
}

// canonicalStreamtapeURL rewrites any streamtape mirror link to the /e/ embed.
func canonicalStreamtapeURL(urlStr string) (string, error) {
	if strings.HasPrefix(urlStr, streamtapeEmbedBase) {
		return urlStr, nil
	}
	parts := strings.Split(urlStr, "/")
	if len(parts) < 5 || parts[4] == "" {
		return "", fmt.Errorf("streamtape id in %q: %w", urlStr, ErrNotFound)
	}
	return streamtapeEmbedBase + parts[4], nil
}

// evalStringExpression evaluates a side-effect free JavaScript expression
// that must produce a string.
func evalStringExpression(expr string) (string, error) {
	vm := goja.New()
	timer := time.AfterFunc(streamtapeEvalTimeout, func() {
		vm.Interrupt("evaluation timed out")
	})
	defer timer.Stop()

	v, err := vm.RunString("(" + expr + ")")
	if err != nil {
		return "", err
	}
	s, ok := v.Export().(string)
	if !ok {
		return "", errors.New("expression did not produce a string")
	}
	return s, nil
}

// concatStreamtapeLink handles the common "'a' + ('xcdb').substring(n)..." form
// without a JavaScript runtime.
func concatStreamtapeLink(expr string) string {
	var out strings.Builder
	for _, part := range strings.Split(expr, "+") {
		part = strings.TrimSpace(part)
		start := strings.IndexAny(part, `'"`)
		if start < 0 {
			continue
		}
		quote := part[start]
		end := strings.IndexByte(part[start+1:], quote)
		if end < 0 {
			continue
		}
		literal := part[start+1 : start+1+end]
		for _, sm := range streamtapeSubstringRegex.FindAllStringSubmatch(part[start+1+end:], -1) {
			n, _ := strconv.Atoi(sm[1])
			if n > len(literal) {
				n = len(literal)
			}
			literal = literal[n:]
		}
		out.WriteString(literal)
	}
	return out.String()
}

var _ interfaces.Extractor = (*StreamtapeExtractor)(nil)
