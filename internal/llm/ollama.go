package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaService generates text using a local Ollama server. This is the
// recommended provider for on-premises deployments: prompts and document
// content never leave the host running the server.
type OllamaService struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaService creates a provider that calls Ollama's /api/generate
// endpoint. Model should be an instruction-following chat model (e.g.
// "llama3.1"), not an embedding model.
func NewOllamaService(baseURL, model string) *OllamaService {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaService{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
}

type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	System  string                 `json:"system,omitempty"`
	Format  string                 `json:"format,omitempty"` // "json" asks Ollama to constrain output
	Stream  bool                   `json:"stream"`
	Options map[string]any         `json:"options,omitempty"`
	KeepAlive string               `json:"keep_alive,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

// Generate issues a single-shot (non-streaming) generation request.
func (s *OllamaService) Generate(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = s.model
	}

	body := ollamaGenerateRequest{
		Model:  model,
		Prompt: req.Prompt,
		System: req.System,
		Stream: false,
		// Ollama keeps the model resident between calls; the pipeline issues
		// many small requests in a short window (one per claim pair, one per
		// section) so paying the load cost once per process matters.
		KeepAlive: "10m",
	}
	if req.Format == FormatJSON {
		body.Format = "json"
	}
	if req.Temperature != 0 {
		body.Options = map[string]any{"temperature": req.Temperature}
	} else {
		// Deterministic decoding by default — control flow (is_conflict,
		// merge choice) should not vary run to run on identical input.
		body.Options = map[string]any{"temperature": 0.0}
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("ollama: status %d: %s", resp.StatusCode, string(b))
	}

	var result ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("ollama: decode response: %w", err)
	}
	if result.Response == "" {
		return "", fmt.Errorf("ollama: empty response")
	}
	return result.Response, nil
}

// Warmup loads the model into memory ahead of the first real request, so
// the first claim extraction or conflict verification of a session doesn't
// pay Ollama's cold-load latency.
func (s *OllamaService) Warmup(ctx context.Context) error {
	_, err := s.Generate(ctx, Request{Prompt: "ok", Format: FormatText})
	return err
}

// Reachable probes Ollama's /api/tags endpoint with a short timeout, used
// by the "auto" provider selection to decide whether a local Ollama
// instance is available before falling back to a hosted provider.
func Reachable(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}
