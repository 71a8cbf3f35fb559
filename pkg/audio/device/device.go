// Package device implements [audio.Source] and [audio.Sink] on top of
// miniaudio through github.com/gen2brain/malgo.
//
// A single [Context] owns the miniaudio backend; capture and playback devices
// are opened from it and selected by index into the backend's device list
// (-1 selects the system default).
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/echo/pkg/audio"
)

// DefaultIndex selects the backend's default device.
const DefaultIndex = -1

// Info describes one enumerated device.
type Info struct {
	Index     int
	Name      string
	IsDefault bool
}

// Context wraps an initialised miniaudio context.
type Context struct {
	mctx *malgo.AllocatedContext
}

// Open initialises the miniaudio backend.
func Open() (*Context, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("miniaudio", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("device: init context: %w", err)
	}
	return &Context{mctx: mctx}, nil
}

// Close releases the backend. Devices opened from c must be closed first.
func (c *Context) Close() error {
	err := c.mctx.Uninit()
	c.mctx.Free()
	return err
}

// Inputs lists capture devices.
func (c *Context) Inputs() ([]Info, error) { return c.list(malgo.Capture) }

// Outputs lists playback devices.
func (c *Context) Outputs() ([]Info, error) { return c.list(malgo.Playback) }

func (c *Context) list(kind malgo.DeviceType) ([]Info, error) {
	devs, err := c.mctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("device: enumerate: %w", err)
	}
	out := make([]Info, len(devs))
	for i, d := range devs {
		out[i] = Info{Index: i, Name: d.Name(), IsDefault: d.IsDefault != 0}
	}
	return out, nil
}

func (c *Context) deviceID(kind malgo.DeviceType, index int) (unsafe.Pointer, error) {
	if index == DefaultIndex {
		return nil, nil
	}
	devs, err := c.mctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("device: enumerate: %w", err)
	}
	if index < 0 || index >= len(devs) {
		return nil, fmt.Errorf("device: index %d out of range (have %d devices)", index, len(devs))
	}
	return devs[index].ID.Pointer(), nil
}

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a microphone [audio.Source] delivering fixed-size frames.
//
// The miniaudio callback slices incoming PCM into frames and hands them to a
// bounded channel. When the reader falls behind the newest frame is dropped
// so the realtime callback never blocks.
type Capture struct {
	format     audio.Format
	frameBytes int
	frames     chan audio.Frame
	dev        *malgo.Device

	mu       sync.Mutex
	pending  []byte
	captured int
	dropped  int

	closeOnce sync.Once
	closed    chan struct{}
}

// CaptureConfig configures [Context.OpenCapture].
type CaptureConfig struct {
	Index   int
	Format  audio.Format
	FrameMs int
	// Buffer is the number of frames held between the callback and ReadFrame.
	Buffer int
}

// OpenCapture opens and starts a capture device.
func (c *Context) OpenCapture(cfg CaptureConfig) (*Capture, error) {
	if err := cfg.Format.Validate(); err != nil {
		return nil, err
	}
	if cfg.FrameMs <= 0 {
		return nil, errors.New("device: frame_ms must be positive")
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	id, err := c.deviceID(malgo.Capture, cfg.Index)
	if err != nil {
		return nil, err
	}

	cp := &Capture{
		format:     cfg.Format,
		frameBytes: cfg.Format.FrameBytes(cfg.FrameMs),
		frames:     make(chan audio.Frame, cfg.Buffer),
		closed:     make(chan struct{}),
	}

	dc := malgo.DefaultDeviceConfig(malgo.Capture)
	dc.Capture.Format = malgo.FormatS16
	dc.Capture.Channels = uint32(cfg.Format.Channels)
	dc.Capture.DeviceID = id
	dc.SampleRate = uint32(cfg.Format.SampleRate)
	dc.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(c.mctx.Context, dc, malgo.DeviceCallbacks{Data: cp.onData})
	if err != nil {
		return nil, fmt.Errorf("device: init capture: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("device: start capture: %w", err)
	}
	cp.dev = dev
	return cp, nil
}

func (cp *Capture) onData(_, in []byte, framecount uint32) {
	if framecount == 0 {
		return
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.pending = append(cp.pending, in...)
	for len(cp.pending) >= cp.frameBytes {
		data := make([]byte, cp.frameBytes)
		copy(data, cp.pending[:cp.frameBytes])
		cp.pending = append(cp.pending[:0], cp.pending[cp.frameBytes:]...)
		f := audio.Frame{
			Data:      data,
			Format:    cp.format,
			Timestamp: cp.format.Duration(cp.captured * cp.frameBytes),
		}
		cp.captured++
		select {
		case cp.frames <- f:
		default:
			cp.dropped++
		}
	}
}

// ReadFrame implements [audio.Source].
func (cp *Capture) ReadFrame(ctx context.Context) (audio.Frame, error) {
	select {
	case f := <-cp.frames:
		return f, nil
	case <-cp.closed:
		return audio.Frame{}, audio.ErrDeviceClosed
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	}
}

// Format implements [audio.Source].
func (cp *Capture) Format() audio.Format { return cp.format }

// Dropped returns how many frames were discarded because the reader lagged.
func (cp *Capture) Dropped() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.dropped
}

// Close implements [audio.Source].
func (cp *Capture) Close() error {
	cp.closeOnce.Do(func() {
		close(cp.closed)
		cp.dev.Uninit()
	})
	return nil
}

// ─── Playback ─────────────────────────────────────────────────────────────────

// Playback is a speaker [audio.Sink]. The device runs continuously and emits
// silence while nothing is queued.
type Playback struct {
	format audio.Format
	dev    *malgo.Device

	mu      sync.Mutex
	buf     []byte
	drained chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// OpenPlayback opens and starts a playback device.
func (c *Context) OpenPlayback(index int, f audio.Format) (*Playback, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	id, err := c.deviceID(malgo.Playback, index)
	if err != nil {
		return nil, err
	}
	pb := &Playback{format: f, closed: make(chan struct{})}

	dc := malgo.DefaultDeviceConfig(malgo.Playback)
	dc.Playback.Format = malgo.FormatS16
	dc.Playback.Channels = uint32(f.Channels)
	dc.Playback.DeviceID = id
	dc.SampleRate = uint32(f.SampleRate)
	dc.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(c.mctx.Context, dc, malgo.DeviceCallbacks{Data: pb.onData})
	if err != nil {
		return nil, fmt.Errorf("device: init playback: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("device: start playback: %w", err)
	}
	pb.dev = dev
	return pb, nil
}

func (pb *Playback) onData(out, _ []byte, _ uint32) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	n := copy(out, pb.buf)
	pb.buf = pb.buf[n:]
	clear(out[n:])
	if len(pb.buf) == 0 && pb.drained != nil {
		close(pb.drained)
		pb.drained = nil
	}
}

// Play implements [audio.Sink]. Concurrent calls are serialised by the caller;
// a second Play while one is in flight replaces the queued audio.
func (pb *Playback) Play(ctx context.Context, pcm []byte) error {
	select {
	case <-pb.closed:
		return audio.ErrDeviceClosed
	default:
	}
	if len(pcm) == 0 {
		return nil
	}
	done := make(chan struct{})
	pb.mu.Lock()
	if pb.drained != nil {
		close(pb.drained)
	}
	pb.buf = pcm
	pb.drained = done
	pb.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		pb.stop(done)
		return ctx.Err()
	case <-pb.closed:
		return audio.ErrDeviceClosed
	}
}

func (pb *Playback) stop(done chan struct{}) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.drained == done {
		pb.buf = nil
		close(pb.drained)
		pb.drained = nil
	}
}

// Format implements [audio.Sink].
func (pb *Playback) Format() audio.Format { return pb.format }

// Close implements [audio.Sink].
func (pb *Playback) Close() error {
	pb.closeOnce.Do(func() {
		close(pb.closed)
		pb.dev.Uninit()
	})
	return nil
}

var (
	_ audio.Source = (*Capture)(nil)
	_ audio.Sink   = (*Playback)(nil)
)
