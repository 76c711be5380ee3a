package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerRoutes(t *testing.T) {
	server := SetupServer(":0")
	server.RegisterAuthHealthHandler(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"has_token":true}`))
	})

	ts := httptest.NewServer(server.Handler)
	defer ts.Close()

	WPMGuessCount.Add(1)
	RedemptionsTotal.WithLabelValues("push", "credited").Inc()

	tests := []struct {
		path     string
		contains string
	}{
		{path: "/healthz", contains: "OK"},
		{path: "/healthz/auth", contains: `"has_token":true`},
		{path: "/metrics", contains: "wpm_guess_count"},
		{path: "/metrics", contains: `redemptions_total{outcome="credited",path="push"}`},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, string(body), tt.contains)
		})
	}
}
