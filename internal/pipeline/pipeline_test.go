package pipeline_test

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/echo/internal/pipeline"
	"github.com/MrWong99/echo/internal/segment"
	"github.com/MrWong99/echo/internal/transport"
	"github.com/MrWong99/echo/pkg/audio"
	audiomock "github.com/MrWong99/echo/pkg/audio/mock"
	vadmock "github.com/MrWong99/echo/pkg/provider/vad/mock"
)

var format = audio.Format{SampleRate: 48000, Channels: 1}

// frame returns a 30 ms frame whose first two bytes encode its index.
func frame(i int) audio.Frame {
	data := make([]byte, format.FrameBytes(30))
	data[0] = byte(i)
	data[1] = byte(i >> 8)
	return audio.Frame{Data: data, Format: format, Timestamp: time.Duration(i) * 30 * time.Millisecond}
}

func index(b []byte) int { return int(b[0]) | int(b[1])<<8 }

func frames(n int) []audio.Frame {
	out := make([]audio.Frame, n)
	for i := range out {
		out[i] = frame(i)
	}
	return out
}

// labels expands (value, count) pairs into a label sequence.
func labels(runs ...any) []bool {
	var out []bool
	for i := 0; i < len(runs); i += 2 {
		v := runs[i].(bool)
		for range runs[i+1].(int) {
			out = append(out, v)
		}
	}
	return out
}

// gatedSource replays frames and blocks before frame i until gates[i] closes.
type gatedSource struct {
	frames []audio.Frame
	gates  map[int]<-chan struct{}
	next   int
}

func (s *gatedSource) ReadFrame(ctx context.Context) (audio.Frame, error) {
	if s.next >= len(s.frames) {
		return audio.Frame{}, io.EOF
	}
	if g, ok := s.gates[s.next]; ok {
		select {
		case <-g:
		case <-ctx.Done():
			return audio.Frame{}, ctx.Err()
		}
	}
	f := s.frames[s.next]
	s.next++
	return f, nil
}

func (s *gatedSource) Format() audio.Format { return format }
func (s *gatedSource) Close() error         { return nil }

type fakeSender struct {
	mu    sync.Mutex
	calls []segment.Utterance
	reply func(n int) (*transport.InteractionResult, error)
}

func (s *fakeSender) SendUtterance(ctx context.Context, sess *transport.Session, utt segment.Utterance) (*transport.InteractionResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, utt)
	n := len(s.calls)
	s.mu.Unlock()
	if s.reply != nil {
		return s.reply(n)
	}
	return &transport.InteractionResult{Text: "ok", SessionID: sess.ID}, nil
}

func (s *fakeSender) sent() []segment.Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]segment.Utterance(nil), s.calls...)
}

type fakeSpeaker struct {
	mu       sync.Mutex
	spoken   []string
	speaking atomic.Bool
}

func (s *fakeSpeaker) Speak(_ context.Context, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, text)
}

func (s *fakeSpeaker) Speaking() bool { return s.speaking.Load() }

func (s *fakeSpeaker) said() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

func run(t *testing.T, p *pipeline.Pipeline) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.Run(ctx)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRun_SendsOneUtterancePerSpan(t *testing.T) {
	lab := labels(false, 5, true, 10, false, 3)
	src := &audiomock.Source{Frames: frames(len(lab)), FormatResult: format, Err: io.EOF}
	vad := &vadmock.Session{Labels: lab}
	sender := &fakeSender{reply: func(int) (*transport.InteractionResult, error) {
		return &transport.InteractionResult{Text: "hi there"}, nil
	}}
	speaker := &fakeSpeaker{}
	sess := &transport.Session{ID: "s-1"}

	p := pipeline.New(pipeline.Config{Segmenter: segment.Config{SilenceFrames: 2}}, src, vad, sender, speaker, sess)
	if err := run(t, p); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sent := sender.sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d utterances, want 1", len(sent))
	}
	u := sent[0]
	if u.Len() != 13 {
		t.Errorf("utterance length = %d, want 10 speech + 3 silence", u.Len())
	}
	if got := index(u.Frames[0].Data); got != 5 {
		t.Errorf("first frame = %d, want 5", got)
	}
	if u.SpeechFrames != 10 {
		t.Errorf("SpeechFrames = %d, want 10", u.SpeechFrames)
	}
	if got := speaker.said(); len(got) != 1 || got[0] != "hi there" {
		t.Errorf("spoken = %q, want [hi there]", got)
	}

	snap := p.Stats().Snapshot()
	if snap.Frames != int64(len(lab)) || snap.Utterances != 1 || snap.Turns != 1 || snap.FailedTurns != 0 {
		t.Errorf("snapshot = %+v", snap)
	}
}

// stereoFrame returns a 30 ms two-channel frame with constant left and right
// samples.
func stereoFrame(i int, left, right int16) audio.Frame {
	f := audio.Format{SampleRate: 48000, Channels: 2}
	samples := make([]int16, f.FrameBytes(30)/2)
	for j := 0; j < len(samples); j += 2 {
		samples[j], samples[j+1] = left, right
	}
	return audio.Frame{Data: audio.PCM(samples), Format: f, Timestamp: time.Duration(i) * 30 * time.Millisecond}
}

func TestRun_StereoCaptureIsSentAsMono(t *testing.T) {
	lab := labels(true, 2, false, 4)
	in := make([]audio.Frame, len(lab))
	for i := range in {
		in[i] = stereoFrame(i, 1000, 3000)
	}
	src := &audiomock.Source{Frames: in, FormatResult: in[0].Format, Err: io.EOF}
	vad := &vadmock.Session{Labels: lab}
	sender := &fakeSender{}

	p := pipeline.New(pipeline.Config{Segmenter: segment.Config{SilenceFrames: 2}},
		src, vad, sender, &fakeSpeaker{}, &transport.Session{ID: "s"})
	if err := run(t, p); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sent := sender.sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d utterances, want 1", len(sent))
	}
	u := sent[0]
	if got := u.Format(); got.Channels != 1 || got.SampleRate != 48000 {
		t.Errorf("utterance format = %v, want 48 kHz mono", got)
	}
	for i, f := range u.Frames {
		if len(f.Data) != len(in[i].Data)/2 {
			t.Fatalf("frame %d holds %d bytes, want %d", i, len(f.Data), len(in[i].Data)/2)
		}
		if s := audio.Samples(f.Data); s[0] != 2000 {
			t.Errorf("frame %d first sample = %d, want the channel average 2000", i, s[0])
		}
	}

	wav := audio.EncodeWAV(u.PCM(), u.Format())
	if ch := binary.LittleEndian.Uint16(wav[22:24]); ch != 1 {
		t.Errorf("WAV channel count = %d, want 1", ch)
	}
	if got := len(vad.Frames[0]); got != len(in[0].Data)/2 {
		t.Errorf("classifier got %d bytes, want mono frame of %d", got, len(in[0].Data)/2)
	}
}

func TestRun_TrailingOpenUtteranceIsDiscarded(t *testing.T) {
	lab := labels(true, 4, false, 1)
	src := &audiomock.Source{Frames: frames(len(lab)), FormatResult: format, Err: io.EOF}
	sender := &fakeSender{}

	p := pipeline.New(pipeline.Config{Segmenter: segment.Config{SilenceFrames: 2}},
		src, &vadmock.Session{Labels: lab}, sender, &fakeSpeaker{}, &transport.Session{ID: "s"})
	if err := run(t, p); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := len(sender.sent()); n != 0 {
		t.Errorf("sent %d utterances, want 0", n)
	}
}

func TestRun_SendFailureDoesNotStopLoop(t *testing.T) {
	lab := labels(true, 2, false, 3, true, 2, false, 3)
	src := &audiomock.Source{Frames: frames(len(lab)), FormatResult: format, Err: io.EOF}
	sender := &fakeSender{reply: func(n int) (*transport.InteractionResult, error) {
		if n == 1 {
			return nil, &transport.StatusError{StatusCode: 400, Detail: "Could not transcribe audio"}
		}
		return &transport.InteractionResult{Text: "second"}, nil
	}}
	speaker := &fakeSpeaker{}

	p := pipeline.New(pipeline.Config{Segmenter: segment.Config{SilenceFrames: 2}},
		src, &vadmock.Session{Labels: lab}, sender, speaker, &transport.Session{ID: "s"})
	if err := run(t, p); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if n := len(sender.sent()); n != 2 {
		t.Fatalf("sent %d utterances, want 2", n)
	}
	if got := speaker.said(); len(got) != 1 || got[0] != "second" {
		t.Errorf("spoken = %q, want only the second reply", got)
	}
	if snap := p.Stats().Snapshot(); snap.Turns != 2 || snap.FailedTurns != 1 {
		t.Errorf("turns = %d failed = %d, want 2 and 1", snap.Turns, snap.FailedTurns)
	}
}

func TestRun_ClassifierErrorAbortsRun(t *testing.T) {
	errVAD := errors.New("vad exploded")
	src := &audiomock.Source{Frames: frames(10), FormatResult: format}
	vad := &vadmock.Session{ProcessFrameErr: errVAD, ErrAfter: 3}

	p := pipeline.New(pipeline.Config{}, src, vad, &fakeSender{}, &fakeSpeaker{}, &transport.Session{ID: "s"})
	err := run(t, p)
	if !errors.Is(err, errVAD) {
		t.Fatalf("Run error = %v, want %v", err, errVAD)
	}
	if n := vad.FrameCount(); n != 3 {
		t.Errorf("classified %d frames before failing, want 3", n)
	}
}

func TestRun_ReadErrorAbortsRun(t *testing.T) {
	errDev := errors.New("device unplugged")
	src := &audiomock.Source{Frames: frames(3), FormatResult: format, Err: errDev}

	p := pipeline.New(pipeline.Config{}, src, &vadmock.Session{}, &fakeSender{}, &fakeSpeaker{}, &transport.Session{ID: "s"})
	if err := run(t, p); !errors.Is(err, errDev) {
		t.Fatalf("Run error = %v, want %v", err, errDev)
	}
}

func TestRun_CancelStopsLiveSource(t *testing.T) {
	// Err unset: the source blocks like a quiet microphone.
	src := &audiomock.Source{FormatResult: format}
	p := pipeline.New(pipeline.Config{}, src, &vadmock.Session{}, &fakeSender{}, &fakeSpeaker{}, &transport.Session{ID: "s"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run error = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_HalfDuplexDiscardsFramesWhileSpeaking(t *testing.T) {
	lab := labels(true, 4, false, 3)
	src := &audiomock.Source{Frames: frames(len(lab)), FormatResult: format, Err: io.EOF}
	vad := &vadmock.Session{Labels: lab}
	sender := &fakeSender{}
	speaker := &fakeSpeaker{}
	speaker.speaking.Store(true)

	p := pipeline.New(pipeline.Config{Segmenter: segment.Config{SilenceFrames: 2}, HalfDuplex: true},
		src, vad, sender, speaker, &transport.Session{ID: "s"})
	if err := run(t, p); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if n := vad.FrameCount(); n != 0 {
		t.Errorf("classified %d frames during playback, want 0", n)
	}
	if vad.ResetCallCount != 1 {
		t.Errorf("classifier reset %d times, want once on mute", vad.ResetCallCount)
	}
	if n := len(sender.sent()); n != 0 {
		t.Errorf("sent %d utterances, want 0", n)
	}
	if snap := p.Stats().Snapshot(); snap.FramesDropped != int64(len(lab)) {
		t.Errorf("FramesDropped = %d, want %d", snap.FramesDropped, len(lab))
	}
}

func TestRun_FullDuplexKeepsListening(t *testing.T) {
	lab := labels(true, 4, false, 3)
	src := &audiomock.Source{Frames: frames(len(lab)), FormatResult: format, Err: io.EOF}
	sender := &fakeSender{}
	speaker := &fakeSpeaker{}
	speaker.speaking.Store(true)

	p := pipeline.New(pipeline.Config{Segmenter: segment.Config{SilenceFrames: 2}},
		src, &vadmock.Session{Labels: lab}, sender, speaker, &transport.Session{ID: "s"})
	if err := run(t, p); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := len(sender.sent()); n != 1 {
		t.Errorf("sent %d utterances, want 1", n)
	}
}

func TestRun_FrameQueueDropsOldest(t *testing.T) {
	classifying := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	src := &gatedSource{frames: frames(10), gates: map[int]<-chan struct{}{1: classifying}}
	vad := &vadmock.Session{Classify: func([]byte) bool {
		once.Do(func() {
			close(classifying)
			<-release
		})
		return false
	}}

	p := pipeline.New(pipeline.Config{FrameQueue: 2}, src, vad, &fakeSender{}, &fakeSpeaker{}, &transport.Session{ID: "s"})

	done := make(chan error, 1)
	go func() { done <- run(t, p) }()

	// Frame 0 is held by the classifier; frames 1-9 race through a queue of
	// two, so everything but the newest two is dropped.
	waitFor(t, func() bool { return p.Stats().Snapshot().FramesDropped == 7 })
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	var got []int
	for _, f := range vad.Frames {
		got = append(got, index(f))
	}
	want := []int{0, 8, 9}
	if len(got) != len(want) {
		t.Fatalf("classified frames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("classified frames = %v, want %v", got, want)
		}
	}
}

func TestRun_UtteranceQueueFullDropsUtterance(t *testing.T) {
	// Three utterances of two speech frames each. The sender blocks on the
	// first, the second waits in the queue and the third is dropped.
	lab := labels(true, 2, false, 3, true, 2, false, 3, true, 2, false, 3)
	inFlight := make(chan struct{})
	release := make(chan struct{})

	src := &gatedSource{frames: frames(len(lab)), gates: map[int]<-chan struct{}{5: inFlight}}
	sender := &fakeSender{reply: func(n int) (*transport.InteractionResult, error) {
		if n == 1 {
			close(inFlight)
			<-release
		}
		return &transport.InteractionResult{Text: "reply"}, nil
	}}

	p := pipeline.New(pipeline.Config{Segmenter: segment.Config{SilenceFrames: 2}, UtteranceQueue: 1},
		src, &vadmock.Session{Labels: lab}, sender, &fakeSpeaker{}, &transport.Session{ID: "s"})

	done := make(chan error, 1)
	go func() { done <- run(t, p) }()

	waitFor(t, func() bool { return p.Stats().Snapshot().UtterancesDropped == 1 })
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := len(sender.sent()); n != 2 {
		t.Errorf("sent %d utterances, want 2", n)
	}
	snap := p.Stats().Snapshot()
	if snap.Utterances != 3 || snap.UtterancesDropped != 1 {
		t.Errorf("utterances = %d dropped = %d, want 3 and 1", snap.Utterances, snap.UtterancesDropped)
	}
}

func TestRun_ForcedFlushAtLengthCap(t *testing.T) {
	lab := labels(true, 7)
	src := &audiomock.Source{Frames: frames(len(lab)), FormatResult: format, Err: io.EOF}
	sender := &fakeSender{}
	var hooked []segment.Utterance

	p := pipeline.New(pipeline.Config{Segmenter: segment.Config{SilenceFrames: 2, MaxFrames: 3}},
		src, &vadmock.Session{Labels: lab}, sender, &fakeSpeaker{}, &transport.Session{ID: "s"},
		pipeline.WithUtteranceHook(func(u segment.Utterance) { hooked = append(hooked, u) }))
	if err := run(t, p); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sent := sender.sent()
	if len(sent) != 2 {
		t.Fatalf("sent %d utterances, want 2 capped spans", len(sent))
	}
	for i, u := range sent {
		if !u.Forced || u.Len() != 3 {
			t.Errorf("utterance %d: forced=%v len=%d, want forced len 3", i, u.Forced, u.Len())
		}
	}
	if len(hooked) != 2 {
		t.Errorf("hook saw %d utterances, want 2", len(hooked))
	}
	if snap := p.Stats().Snapshot(); snap.Forced != 2 {
		t.Errorf("Forced = %d, want 2", snap.Forced)
	}
}
