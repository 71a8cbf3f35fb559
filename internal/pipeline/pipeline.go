// Package pipeline runs the Echo client: microphone capture, voice activity
// classification, utterance segmentation, the round trip to the server and
// reply playback.
//
// Run starts three goroutines joined by bounded queues:
//
//	capture ──frames──▶ segment ──utterances──▶ turn
//
// Capture never blocks on the rest of the pipeline: when the frame queue is
// full the oldest queued frame is dropped. The segment stage keeps
// classifying while a turn is in flight, so speech during network latency is
// not lost. Only one turn is in flight at a time; utterances that find the
// utterance queue full are dropped.
//
// With half-duplex enabled, frames captured while a reply is playing are
// discarded and the segmenter is reset, so the assistant does not answer
// itself through the speakers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/echo/internal/observe"
	"github.com/MrWong99/echo/internal/segment"
	"github.com/MrWong99/echo/internal/transport"
	"github.com/MrWong99/echo/pkg/audio"
	"github.com/MrWong99/echo/pkg/provider/vad"
)

// Sender delivers one utterance and returns the server's reply.
// [*transport.Client] implements it.
type Sender interface {
	SendUtterance(ctx context.Context, sess *transport.Session, utt segment.Utterance) (*transport.InteractionResult, error)
}

// Speaker renders a reply. Speak must not return until playback finished.
// [*playback.Speaker] implements it.
type Speaker interface {
	Speak(ctx context.Context, text string)
	Speaking() bool
}

// Config tunes a [Pipeline].
type Config struct {
	// Segmenter configures the utterance state machine.
	Segmenter segment.Config

	// FrameQueue is the capture queue capacity. Default: 256.
	FrameQueue int

	// UtteranceQueue is the capacity of the queue feeding the turn stage.
	// Default: 4.
	UtteranceQueue int

	// HalfDuplex discards captured frames while a reply is playing.
	HalfDuplex bool
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithStats records into s instead of a private [Stats].
func WithStats(s *Stats) Option {
	return func(p *Pipeline) { p.stats = s }
}

// WithUtteranceHook calls fn for every utterance the segmenter emits, before
// it is queued. fn runs on the segment goroutine and must not block.
func WithUtteranceHook(fn func(segment.Utterance)) Option {
	return func(p *Pipeline) { p.onUtterance = fn }
}

// Pipeline is one client run bound to one conversation session.
type Pipeline struct {
	cfg        Config
	source     audio.Source
	classifier vad.SessionHandle
	sender     Sender
	speaker    Speaker
	session    *transport.Session

	metrics     *observe.Metrics
	stats       *Stats
	onUtterance func(segment.Utterance)
}

// New creates a Pipeline. The session carries the conversation token for
// every turn of this run.
func New(cfg Config, source audio.Source, classifier vad.SessionHandle, sender Sender, speaker Speaker, sess *transport.Session, opts ...Option) *Pipeline {
	if cfg.FrameQueue <= 0 {
		cfg.FrameQueue = 256
	}
	if cfg.UtteranceQueue <= 0 {
		cfg.UtteranceQueue = 4
	}
	p := &Pipeline{
		cfg:        cfg,
		source:     source,
		classifier: classifier,
		sender:     sender,
		speaker:    speaker,
		session:    sess,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	if p.stats == nil {
		p.stats = NewStats(0)
	}
	return p
}

// Stats returns the run's statistics.
func (p *Pipeline) Stats() *Stats { return p.stats }

// Run blocks until ctx is cancelled, the source is exhausted, or capture or
// classification fails.
//
// A source returning [io.EOF] ends the run cleanly once every queued
// utterance has been answered. Read and classifier errors abort the run and
// are returned. Turn failures (transport errors, non-2xx replies) are logged
// and never end the run. On cancellation the ctx error is returned and an
// in-flight request is abandoned.
func (p *Pipeline) Run(ctx context.Context) error {
	frames := make(chan audio.Frame, p.cfg.FrameQueue)
	utterances := make(chan segment.Utterance, p.cfg.UtteranceQueue)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(frames)
		return p.capture(gctx, frames)
	})
	g.Go(func() error {
		defer close(utterances)
		return p.segment(gctx, frames, utterances)
	})
	g.Go(func() error {
		return p.turns(gctx, utterances)
	})
	return g.Wait()
}

func (p *Pipeline) capture(ctx context.Context, frames chan audio.Frame) error {
	for {
		f, err := p.source.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("pipeline: read frame: %w", err)
		}
		p.stats.frame()

		select {
		case frames <- f:
			continue
		default:
		}
		// Queue full: drop the oldest frame so the newest audio survives.
		select {
		case <-frames:
			p.dropFrame(ctx, "queue_full")
		default:
		}
		select {
		case frames <- f:
		default:
			p.dropFrame(ctx, "queue_full")
		}
	}
}

func (p *Pipeline) dropFrame(ctx context.Context, reason string) {
	p.stats.frameDropped()
	p.metrics.RecordFrameDropped(ctx, reason)
}

func (p *Pipeline) segment(ctx context.Context, frames <-chan audio.Frame, out chan<- segment.Utterance) error {
	seg := segment.New(p.cfg.Segmenter)
	muted := false

	for {
		var (
			f  audio.Frame
			ok bool
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok = <-frames:
		}
		if !ok {
			if seg.State() == segment.StateRecording {
				slog.Debug("capture ended with an open utterance, discarding", "frames", seg.Buffered())
			}
			return nil
		}

		if p.cfg.HalfDuplex && p.speaker.Speaking() {
			if !muted {
				muted = true
				seg.Reset()
				p.classifier.Reset()
			}
			p.dropFrame(ctx, "playback")
			continue
		}
		muted = false

		// Classifier and upload both expect mono.
		f = downmix(f)
		ev, err := p.classifier.ProcessFrame(f.Data)
		if err != nil {
			return fmt.Errorf("pipeline: classify frame: %w", err)
		}

		utt, done := seg.Push(f, ev.Speech)
		if !done {
			continue
		}
		p.stats.utterance(utt.Duration(), utt.Forced)
		if p.onUtterance != nil {
			p.onUtterance(utt)
		}

		outcome := "complete"
		if utt.Forced {
			outcome = "forced"
			slog.Info("utterance reached the length cap, flushing", "duration", utt.Duration())
		}
		select {
		case out <- utt:
			p.metrics.RecordUtterance(ctx, outcome)
		default:
			p.stats.utteranceDropped()
			p.metrics.RecordUtterance(ctx, "dropped")
			slog.Warn("utterance dropped, previous turns still pending",
				"duration", utt.Duration(),
				"queued", len(out))
		}
	}
}

// downmix returns f as a single-channel frame. Mono frames pass through.
func downmix(f audio.Frame) audio.Frame {
	ch := f.Format.Channels
	if ch <= 1 {
		return f
	}
	return audio.Frame{
		Data:      audio.Remix(f.Data, ch, 1),
		Format:    audio.Format{SampleRate: f.Format.SampleRate, Channels: 1},
		Timestamp: f.Timestamp,
	}
}

func (p *Pipeline) turns(ctx context.Context, in <-chan segment.Utterance) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case utt, ok := <-in:
			if !ok {
				return nil
			}
			p.turn(ctx, utt)
		}
	}
}

// turn sends one utterance and speaks the reply. Every failure is logged and
// swallowed so the next utterance gets its turn.
func (p *Pipeline) turn(ctx context.Context, utt segment.Utterance) {
	log := slog.With("session_id", p.session.ID)
	log.Info("sending utterance", "duration", utt.Duration(), "frames", utt.Len())

	start := time.Now()
	res, err := p.sender.SendUtterance(ctx, p.session, utt)
	p.stats.turn(time.Since(start), err)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		var se *transport.StatusError
		if errors.As(err, &se) {
			log.Warn("server rejected utterance", "status", se.StatusCode, "detail", se.Error())
		} else {
			log.Error("failed to reach server", "err", err)
		}
		return
	}
	log.Info("reply received", "text", res.Text, "round_trip", time.Since(start))

	start = time.Now()
	p.speaker.Speak(ctx, res.Text)
	p.stats.played(time.Since(start))
}
