// Package unpacker reverses Dean Edwards' P.A.C.K.E.R. obfuscation as used by
// embed players to hide their source URLs.
package unpacker

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// Marker is the prefix of every packed block.
const Marker = "eval(function(p,a,c,k,e,"

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// ErrNotPacked is returned when the input carries no packed block.
var ErrNotPacked = errors.New("unpacker: no packed block")

var (
	argsRegex = regexp.MustCompile(`(?s)}\s*\(\s*'(.*)'\s*,\s*(\d+|\[\])\s*,\s*(\d+)\s*,\s*'(.*?)'\.split\('\|'\)`)
	wordRegex = regexp.MustCompile(`\b\w+\b`)
	// splitRegex marks the word table, the last argument before the call closes.
	splitRegex = regexp.MustCompile(`\.split\(\s*['"]\|['"]\s*\)`)
)

// evalTimeout bounds the JavaScript fallback.
var evalTimeout = 2 * time.Second

// Detect reports whether s contains a packed block.
func Detect(s string) bool {
	return strings.Contains(s, Marker)
}

// Unpack decodes every packed block in s and returns the decoded sources
// joined by newlines. Text outside the blocks is dropped.
func Unpack(s string) (string, error) {
	blocks := split(s)
	if len(blocks) == 0 {
		return "", ErrNotPacked
	}

	var out strings.Builder
	for i, block := range blocks {
		decoded, err := unpackNative(block)
		if err != nil {
			decoded, err = unpackJS(block)
			if err != nil {
				return "", fmt.Errorf("block %d: %w", i, err)
			}
		}
		if i > 0 {
			out.WriteByte('\n')
		}
		out.WriteString(decoded)
	}
	return out.String(), nil
}

// UnpackOrOriginal returns the unpacked source, or s when nothing could be unpacked.
func UnpackOrOriginal(s string) string {
	if !Detect(s) {
		return s
	}
	decoded, err := Unpack(s)
	if err != nil {
		return s
	}
	return decoded
}

// split cuts s into one segment per marker so greedy argument matching
// cannot run into the next block.
func split(s string) []string {
	var blocks []string
	for {
		start := strings.Index(s, Marker)
		if start < 0 {
			return blocks
		}
		s = s[start:]
		next := strings.Index(s[len(Marker):], Marker)
		if next < 0 {
			blocks = append(blocks, s)
			return blocks
		}
		end := len(Marker) + next
		blocks = append(blocks, s[:end])
		s = s[end:]
	}
}

func unpackNative(block string) (string, error) {
	m := argsRegex.FindStringSubmatch(block)
	if m == nil {
		return "", errors.New("unpacker: arguments not found")
	}

	payload := unescape(m[1])
	radix := 62
	if m[2] != "[]" {
		r, err := strconv.Atoi(m[2])
		if err != nil {
			return "", err
		}
		radix = r
	}
	if radix < 2 || radix > len(alphabet) {
		return "", fmt.Errorf("unpacker: unsupported radix %d", radix)
	}

	count, err := strconv.Atoi(m[3])
	if err != nil {
		return "", err
	}
	words := strings.Split(m[4], "|")
	if count != len(words) {
		return "", fmt.Errorf("unpacker: word count %d does not match table size %d", count, len(words))
	}

	return wordRegex.ReplaceAllStringFunc(payload, func(word string) string {
		idx, ok := decodeBase(word, radix)
		if !ok || idx >= len(words) || words[idx] == "" {
			return word
		}
		return words[idx]
	}), nil
}

func decodeBase(word string, radix int) (int, bool) {
	n := 0
	for i := 0; i < len(word); i++ {
		d := strings.IndexByte(alphabet, word[i])
		if d < 0 || d >= radix {
			return 0, false
		}
		n = n*radix + d
	}
	return n, true
}

func unescape(s string) string {
	return strings.NewReplacer(`\\`, `\`, `\'`, `'`).Replace(s)
}

// unpackJS evaluates the packed expression without its eval wrapper. The
// expression ends at the first "))" after the word table; anything later in
// block is trailing page markup.
func unpackJS(block string) (string, error) {
	loc := splitRegex.FindStringIndex(block)
	if loc == nil {
		return "", errors.New("unpacker: word table not found")
	}
	rel := strings.Index(block[loc[1]:], "))")
	if rel < 0 {
		return "", errors.New("unpacker: unterminated block")
	}
	end := loc[1] + rel
	expr := block[len("eval") : end+2]

	vm := goja.New()
	timer := time.AfterFunc(evalTimeout, func() {
		vm.Interrupt("unpacker: evaluation timed out")
	})
	defer timer.Stop()

	v, err := vm.RunString(expr)
	if err != nil {
		return "", fmt.Errorf("unpacker: evaluate: %w", err)
	}
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return "", errors.New("unpacker: evaluation produced no source")
	}
	return v.String(), nil
}
