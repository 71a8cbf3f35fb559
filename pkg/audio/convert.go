package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Convert maps 16-bit PCM from one format to another. Resampling runs before
// channel conversion so a stereo source headed for a mono sink is downmixed on
// the smaller buffer. When from equals to, pcm is returned unchanged.
//
// Supported channel mappings are mono→N (duplicate), N→mono (average) and
// N→M with N, M > 1 (downmix to mono, then duplicate).
func Convert(pcm []byte, from, to Format) ([]byte, error) {
	if err := from.Validate(); err != nil {
		return nil, fmt.Errorf("audio: convert source: %w", err)
	}
	if err := to.Validate(); err != nil {
		return nil, fmt.Errorf("audio: convert target: %w", err)
	}
	if frameBytes := from.Channels * BytesPerSample; len(pcm)%frameBytes != 0 {
		return nil, fmt.Errorf("audio: convert: %d bytes is not a whole number of %s frames", len(pcm), from)
	}
	if from == to {
		return pcm, nil
	}

	out := pcm
	if from.SampleRate != to.SampleRate {
		out = Resample(out, from.Channels, from.SampleRate, to.SampleRate)
	}
	if from.Channels != to.Channels {
		out = Remix(out, from.Channels, to.Channels)
	}
	return out, nil
}

// Converter converts captured frames to a fixed target format. It logs a
// warning on the first mismatch and on the first malformed frame. Create one
// per stream; it is not safe for concurrent use.
type Converter struct {
	Target Format

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Frame returns f converted to c.Target. Frames whose data is not aligned to
// whole samples are returned with nil Data.
func (c *Converter) Frame(f Frame) Frame {
	if f.Format == c.Target {
		return f
	}
	pcm, err := Convert(f.Data, f.Format, c.Target)
	if err != nil {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio converter: dropping malformed frame", "bytes", len(f.Data), "format", f.Format.String(), "err", err)
		})
		return Frame{Format: c.Target, Timestamp: f.Timestamp}
	}
	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting", "from", f.Format.String(), "to", c.Target.String())
	})
	return Frame{Data: pcm, Format: c.Target, Timestamp: f.Timestamp}
}

// Remix changes the channel count of interleaved 16-bit PCM.
func Remix(pcm []byte, fromCh, toCh int) []byte {
	if fromCh == toCh || fromCh <= 0 || toCh <= 0 {
		return pcm
	}
	src := Samples(pcm)
	frames := len(src) / fromCh
	dst := make([]int16, frames*toCh)
	for i := range frames {
		var v int16
		if fromCh == 1 {
			v = src[i]
		} else {
			var sum int32
			for c := range fromCh {
				sum += int32(src[i*fromCh+c])
			}
			v = clamp16(sum / int32(fromCh))
		}
		for c := range toCh {
			dst[i*toCh+c] = v
		}
	}
	return PCM(dst)
}

// Resample converts interleaved 16-bit PCM with the given channel count from
// srcRate to dstRate using linear interpolation per channel. Invalid rates
// return the input unchanged.
func Resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	src := Samples(pcm)
	srcFrames := len(src) / channels
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	dst := make([]int16, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for c := range channels {
			s0 := float64(src[idx*channels+c])
			s1 := float64(src[next*channels+c])
			dst[i*channels+c] = int16(s0*(1-frac) + s1*frac)
		}
	}
	return PCM(dst)
}

// formatString returns e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
