// Package detector guesses whether a statically fetched page needs a real
// browser before its content is visible.
package detector

import (
	"bytes"
	"net/http"
)

// DefaultMinBodyBytes is the size below which a script-heavy page is assumed
// to be an empty client-side shell.
const DefaultMinBodyBytes = 2048

// Heuristic applies a few rules to the raw response.
type Heuristic struct {
	MinBodyBytes int
}

// NewHeuristic returns a Heuristic. A zero threshold uses DefaultMinBodyBytes.
func NewHeuristic(minBodyBytes int) *Heuristic {
	if minBodyBytes <= 0 {
		minBodyBytes = DefaultMinBodyBytes
	}
	return &Heuristic{MinBodyBytes: minBodyBytes}
}

var shellMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`__NEXT_DATA__`),
	[]byte(`data-reactroot`),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte(`ng-version`),
}

// NeedsBrowser reports whether body looks like a page that renders client side.
// Non-200 responses never do; a browser would not fix them.
func (h *Heuristic) NeedsBrowser(status int, body []byte) bool {
	if status != http.StatusOK {
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if len(body) < h.MinBodyBytes && scriptShare(body) >= 25 {
		return true
	}
	for _, marker := range shellMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptShare is the percentage of body covered by <script> elements. An
// unterminated tag covers the rest of the document.
func scriptShare(body []byte) int {
	lower := bytes.ToLower(body)
	total := len(lower)
	covered := 0
	for pos := 0; pos < total; {
		start := bytes.Index(lower[pos:], []byte("<script"))
		if start < 0 {
			break
		}
		start += pos
		end := bytes.Index(lower[start:], []byte("</script>"))
		if end < 0 {
			covered += total - start
			break
		}
		end += start + len("</script>")
		covered += end - start
		pos = end
	}
	return covered * 100 / total
}
