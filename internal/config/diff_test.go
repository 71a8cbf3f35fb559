package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/echo/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	d := config.Diff(cfg, cfg)
	if d.Changed() {
		t.Errorf("expected no changes for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if slices.Contains(d.RestartRequired, "server") {
		t.Error("a log level change alone must not require a restart")
	}
}

func TestDiff_DialogueChanged(t *testing.T) {
	t.Parallel()
	t1, t2 := 0.7, 0.7
	old := &config.Config{Dialogue: config.DialogueConfig{SystemPrompt: "a", Temperature: &t1}}
	same := &config.Config{Dialogue: config.DialogueConfig{SystemPrompt: "a", Temperature: &t2}}
	if d := config.Diff(old, same); d.DialogueChanged {
		t.Error("equal temperatures behind different pointers must not count as a change")
	}

	t3 := 0.1
	changed := &config.Config{Dialogue: config.DialogueConfig{SystemPrompt: "a", Temperature: &t3}}
	d := config.Diff(old, changed)
	if !d.DialogueChanged {
		t.Fatal("expected DialogueChanged=true")
	}
	if *d.NewDialogue.Temperature != 0.1 {
		t.Errorf("NewDialogue.Temperature: got %v", *d.NewDialogue.Temperature)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.ListenAddr = ":9999"
	new.Sessions.Backend = config.SessionMemory
	new.Providers.LLM.Model = "llama-3.1-8b-instant"

	d := config.Diff(old, new)
	for _, want := range []string{"server", "sessions", "providers"} {
		if !slices.Contains(d.RestartRequired, want) {
			t.Errorf("RestartRequired should contain %q, got %v", want, d.RestartRequired)
		}
	}
}

func TestDiff_ProviderOptions(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Providers.VAD.Options = map[string]any{"mode": 1}

	d := config.Diff(old, new)
	if !slices.Contains(d.RestartRequired, "providers") {
		t.Errorf("changed vad options should require restart, got %+v", d)
	}
}
