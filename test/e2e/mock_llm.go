package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
)

// ScriptedLLMServer is an in-process /chat/completions endpoint whose answers
// are chosen per request by the script function.
type ScriptedLLMServer struct {
	server *httptest.Server

	mu      sync.Mutex
	script  func(model string, prompt string) (string, int)
	prompts []string
	calls   int
}

// NewScriptedLLMServer starts the server. script receives the model and the
// last user message and returns the response body text and HTTP status; text
// is wrapped in a chat completion envelope for 2xx statuses.
func NewScriptedLLMServer(script func(model, prompt string) (string, int)) *ScriptedLLMServer {
	s := &ScriptedLLMServer{script: script}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// RespondWith builds a server that always answers with the given text.
func RespondWith(text string) *ScriptedLLMServer {
	return NewScriptedLLMServer(func(string, string) (string, int) {
		return text, http.StatusOK
	})
}

func (s *ScriptedLLMServer) handle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	prompt := ""
	if len(req.Messages) > 0 {
		prompt = req.Messages[len(req.Messages)-1].Content
	}

	s.mu.Lock()
	s.calls++
	s.prompts = append(s.prompts, prompt)
	script := s.script
	s.mu.Unlock()

	text, status := script(req.Model, prompt)
	if status < 200 || status >= 300 {
		http.Error(w, text, status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": text}},
		},
	})
}

// URL returns the server's base URL.
func (s *ScriptedLLMServer) URL() string { return s.server.URL }

// Calls returns how many completion requests were served.
func (s *ScriptedLLMServer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Prompts returns the user messages received so far.
func (s *ScriptedLLMServer) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// Close shuts the server down.
func (s *ScriptedLLMServer) Close() { s.server.Close() }
