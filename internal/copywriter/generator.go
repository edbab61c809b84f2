// Package copywriter produces short promotional copy for an offer via an
// external text-generation API.
package copywriter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/promozap/promozap/internal/config"
)

// Fallback is used whenever generation fails. Generation is best-effort and
// must never fail the pipeline.
const Fallback = "Aproveite essa oferta antes que acabe! 🔥"

const promptTemplate = `Escreva um parágrafo curto e empolgante, em português, convidando o leitor a aproveitar uma promoção do produto "%s". Sem hashtags, no máximo duas frases.`

// Generator calls the generation API with a templated prompt.
type Generator struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
	logger  *slog.Logger
}

// NewGenerator creates a Generator from config.
func NewGenerator(log *slog.Logger, cfg config.GeminiConfig) *Generator {
	if log == nil {
		log = slog.Default()
	}
	return &Generator{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		http:    &http.Client{Timeout: cfg.Timeout()},
		logger:  log.With(slog.String("component", "copywriter")),
	}
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Generate returns promotional copy for the product, or Fallback on any
// failure: timeout, non-success status, malformed response, empty candidate.
func (g *Generator) Generate(ctx context.Context, productName string) string {
	prompt := fmt.Sprintf(promptTemplate, productName)
	payload, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return Fallback
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		g.baseURL, g.model, url.QueryEscape(g.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Fallback
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		g.logger.Warn("copy generation failed", slog.Any("error", err))
		return Fallback
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.logger.Warn("copy generation failed", slog.Int("status", resp.StatusCode))
		return Fallback
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Fallback
	}
	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		g.logger.Warn("copy generation response malformed", slog.Any("error", err))
		return Fallback
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return Fallback
	}
	text := strings.TrimSpace(parsed.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return Fallback
	}
	return text
}
