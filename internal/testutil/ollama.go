package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// FakeOllama serves /api/chat and /api/tags like a local Ollama with glm-ocr
// pulled. Chat replies are served in order and the last one repeats.
type FakeOllama struct {
	*httptest.Server

	mu      sync.Mutex
	replies []string
	models  []string
	status  int
	chats   int
}

// StartFakeOllama starts a fake engine. Callers must Close it.
func StartFakeOllama(replies ...string) *FakeOllama {
	f := &FakeOllama{
		replies: replies,
		models:  []string{"glm-ocr:latest", "llama3:8b"},
		status:  http.StatusOK,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", f.handleChat)
	mux.HandleFunc("GET /api/tags", f.handleTags)
	f.Server = httptest.NewServer(mux)
	return f
}

// NewFakeOllama starts a fake engine that is closed with the test.
func NewFakeOllama(t testing.TB, replies ...string) *FakeOllama {
	t.Helper()
	f := StartFakeOllama(replies...)
	t.Cleanup(f.Close)
	return f
}

// SetReplies replaces the queued chat replies.
func (f *FakeOllama) SetReplies(replies ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = replies
}

// SetModels replaces the models reported by /api/tags.
func (f *FakeOllama) SetModels(models ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models = models
}

// FailWith makes every chat request answer with the given HTTP status.
func (f *FakeOllama) FailWith(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

// Chats returns the number of chat requests received.
func (f *FakeOllama) Chats() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chats
}

func (f *FakeOllama) handleChat(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	n := f.chats
	f.chats++
	status := f.status
	reply := ""
	if len(f.replies) > 0 {
		reply = f.replies[min(n, len(f.replies)-1)]
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": strings.ToLower(http.StatusText(status))})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"message":    map[string]string{"role": "assistant", "content": reply},
		"eval_count": 12,
	})
}

func (f *FakeOllama) handleTags(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	models := make([]map[string]string, 0, len(f.models))
	for _, m := range f.models {
		models = append(models, map[string]string{"name": m})
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"models": models})
}
