package copywriter

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/promozap/promozap/internal/config"
)

func testConfig(baseURL string) config.GeminiConfig {
	return config.GeminiConfig{
		APIKey:         "key-1",
		BaseURL:        baseURL,
		Model:          "gemini-1.5-flash",
		TimeoutSeconds: 2,
	}
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"  Corre que acaba!  "}]}}]}`)
	}))
	defer srv.Close()

	g := NewGenerator(nil, testConfig(srv.URL))
	got := g.Generate(context.Background(), "Fone BT")

	assert.Equal(t, "Corre que acaba!", got)
	assert.Equal(t, "/models/gemini-1.5-flash:generateContent", gotPath)
	assert.Equal(t, "key-1", gotKey)
}

func TestGenerateFallsBack(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "non success status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"candidates":`)
			},
		},
		{
			name: "no candidates",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"candidates":[]}`)
			},
		},
		{
			name: "empty text",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"   "}]}}]}`)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			g := NewGenerator(nil, testConfig(srv.URL))
			assert.Equal(t, Fallback, g.Generate(context.Background(), "Fone BT"))
		})
	}
}

func TestGenerateFallsBackOnTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	g := NewGenerator(nil, testConfig(srv.URL))
	assert.Equal(t, Fallback, g.Generate(context.Background(), "Fone BT"))
}
