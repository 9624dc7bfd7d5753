package detector

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNeedsBrowser(t *testing.T) {
	t.Parallel()

	long := "<html><body>" + strings.Repeat("<p>plain server rendered text</p>", 100) + "</body></html>"
	cases := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{name: "empty body", status: http.StatusOK, body: "  ", want: true},
		{name: "next.js shell", status: http.StatusOK, body: long + `<div id="__next"></div>`, want: true},
		{name: "script heavy", status: http.StatusOK, body: `<html><script>var a=1;</script><p>t</p></html>`, want: true},
		{name: "unterminated script", status: http.StatusOK, body: `<p>x</p><script src="app.js">`, want: true},
		{name: "static page", status: http.StatusOK, body: long, want: false},
		{name: "not found", status: http.StatusNotFound, body: "", want: false},
	}
	h := NewHeuristic(0)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, h.NeedsBrowser(tc.status, []byte(tc.body)))
		})
	}
}

func TestNewHeuristicDefaultsThreshold(t *testing.T) {
	t.Parallel()

	require.Equal(t, DefaultMinBodyBytes, NewHeuristic(0).MinBodyBytes)
	require.Equal(t, 10, NewHeuristic(10).MinBodyBytes)
}

func TestScriptShareCountsEveryTag(t *testing.T) {
	t.Parallel()

	body := []byte(`<script>a</script>xxxxxxxxxxxxxxxxxx<SCRIPT>b</SCRIPT>`)
	require.Equal(t, 36*100/len(body), scriptShare(body))
}
