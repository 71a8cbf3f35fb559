package resilience

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/echo/pkg/provider/stt"
	sttmock "github.com/MrWong99/echo/pkg/provider/stt/mock"
)

func TestSTTFallback_ReplaysAudio(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("primary down")}
	secondary := &sttmock.Provider{Result: stt.Transcript{Text: "hello"}}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	got, err := fb.Transcribe(context.Background(), stt.Request{
		Audio:    strings.NewReader("RIFF-audio"),
		Filename: "input.wav",
		Language: "en",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "hello" {
		t.Errorf("text = %q, want hello", got.Text)
	}
	for name, p := range map[string]*sttmock.Provider{"primary": primary, "secondary": secondary} {
		if p.CallCount() != 1 {
			t.Fatalf("%s called %d times", name, p.CallCount())
		}
		if string(p.Calls[0].Audio) != "RIFF-audio" {
			t.Errorf("%s saw audio %q", name, p.Calls[0].Audio)
		}
		if p.Calls[0].Req.Language != "en" {
			t.Errorf("%s lost request fields: %+v", name, p.Calls[0].Req)
		}
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	fb := NewSTTFallback(&sttmock.Provider{Err: errTest}, "only", FallbackConfig{})
	_, err := fb.Transcribe(context.Background(), stt.Request{Audio: strings.NewReader("x")})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
