package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/echo/pkg/provider/llm"
)

// ── buildParams ───────────────────────────────────────────────────────────────

func TestBuildParams_PrependsSystemPrompt(t *testing.T) {
	p := &Provider{model: "llama-3.3-70b-versatile"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are Echo.",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "hi"},
			{Role: llm.RoleAssistant, Content: "hello"},
			{Role: llm.RoleUser, Content: "weather?"},
		},
		Temperature: 0.7,
		MaxTokens:   150,
	})

	if params.Model != "llama-3.3-70b-versatile" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 4 {
		t.Fatalf("got %d messages, want 4", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem || params.Messages[0].ContentString() != "You are Echo." {
		t.Errorf("first message = %+v", params.Messages[0])
	}
	if params.Messages[3].Role != llm.RoleUser || params.Messages[3].ContentString() != "weather?" {
		t.Errorf("last message = %+v", params.Messages[3])
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 150 {
		t.Errorf("max tokens = %v", params.MaxTokens)
	}
}

func TestBuildParams_ZeroValuesOmitted(t *testing.T) {
	p := &Provider{model: "m"}
	params := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	if len(params.Messages) != 1 {
		t.Errorf("got %d messages, want 1 (no system prompt)", len(params.Messages))
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("zero temperature/max tokens should be left unset")
	}
}

// ── Constructor ───────────────────────────────────────────────────────────────

func TestNew_EmptyBackendName(t *testing.T) {
	if _, err := New("", "llama-3.3-70b-versatile"); err == nil {
		t.Fatal("expected error for empty backend name")
	}
}

func TestNew_EmptyModel(t *testing.T) {
	if _, err := New("groq", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNew_UnsupportedBackend(t *testing.T) {
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Fatal("expected error for unsupported backend")
	}
}

func TestNew_Groq_WithAPIKey(t *testing.T) {
	p, err := New("Groq", "llama-3.3-70b-versatile", anyllmlib.WithAPIKey("gsk-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.model != "llama-3.3-70b-versatile" {
		t.Errorf("model = %q", p.model)
	}
}

func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNew_Ollama_NoAPIKey(t *testing.T) {
	if _, err := New("ollama", "llama3"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
