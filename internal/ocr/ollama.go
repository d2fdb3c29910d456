package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const maxErrorBody = 4096

// OllamaConfig configures the Ollama chat backend.
type OllamaConfig struct {
	BaseURL string
	Model   string
	Prompt  string
	// Timeout bounds a whole request; zero means no client-side limit.
	Timeout time.Duration
}

// DefaultOllamaConfig targets a local Ollama serving glm-ocr.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		BaseURL: "http://localhost:11434",
		Model:   "glm-ocr",
		Prompt:  "Text Recognition:",
		Timeout: 300 * time.Second,
	}
}

// OllamaEngine recognizes text through Ollama's /api/chat endpoint.
type OllamaEngine struct {
	cfg    OllamaConfig
	client *http.Client
}

// NewOllamaEngine validates cfg and creates the engine.
func NewOllamaEngine(cfg OllamaConfig) (*OllamaEngine, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("ollama base URL is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("ollama model is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OllamaEngine{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaChatResponse struct {
	Message   ollamaMessage `json:"message"`
	EvalCount int           `json:"eval_count"`
	Error     string        `json:"error"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Recognize implements Engine.
func (e *OllamaEngine) Recognize(ctx context.Context, image []byte) (string, error) {
	req := ollamaChatRequest{
		Model: e.cfg.Model,
		Messages: []ollamaMessage{{
			Role:    "user",
			Content: e.cfg.Prompt,
			Images:  []string{base64.StdEncoding.EncodeToString(image)},
		}},
	}
	start := time.Now()
	resp, err := e.chat(ctx, req)
	if err != nil {
		return "", err
	}
	slog.Debug("ollama chat complete",
		"model", e.cfg.Model,
		"tokens", resp.EvalCount,
		"duration_ms", time.Since(start).Milliseconds())
	return resp.Message.Content, nil
}

// Warmup sends a text-only chat so the model is resident before the first page.
func (e *OllamaEngine) Warmup(ctx context.Context) error {
	start := time.Now()
	_, err := e.chat(ctx, ollamaChatRequest{
		Model:    e.cfg.Model,
		Messages: []ollamaMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		return err
	}
	slog.Info("ollama warmup done", "model", e.cfg.Model, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Status queries /api/tags.
func (e *OllamaEngine) Status(ctx context.Context) Status {
	st := Status{Backend: BackendOllama, Models: []string{}}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return st
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return st
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return st
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return st
	}
	st.Online = true
	for _, m := range tags.Models {
		st.Models = append(st.Models, m.Name)
		if strings.Contains(m.Name, e.cfg.Model) {
			st.ModelLoaded = true
		}
	}
	return st
}

func (e *OllamaEngine) chat(ctx context.Context, payload ollamaChatRequest) (*ollamaChatResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, unavailable(BackendOllama, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &EngineError{Backend: BackendOllama, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &EngineError{Backend: BackendOllama, StatusCode: resp.StatusCode, Body: "invalid response: " + err.Error()}
	}
	if out.Error != "" {
		return nil, &EngineError{Backend: BackendOllama, StatusCode: resp.StatusCode, Body: out.Error}
	}
	return &out, nil
}
