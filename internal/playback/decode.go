package playback

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/go-mp3"

	"github.com/MrWong99/echo/pkg/audio"
	"github.com/MrWong99/echo/pkg/provider/tts"
)

// Decode turns an encoded payload into 16-bit PCM. pcmFormat describes raw
// [tts.EncodingPCM] payloads and is ignored for containers.
func Decode(r io.Reader, enc tts.Encoding, pcmFormat audio.Format) ([]byte, audio.Format, error) {
	switch enc {
	case tts.EncodingMP3:
		return decodeMP3(r)
	case tts.EncodingWAV:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, audio.Format{}, fmt.Errorf("playback: read wav: %w", err)
		}
		return audio.DecodeWAV(data)
	case tts.EncodingPCM:
		if err := pcmFormat.Validate(); err != nil {
			return nil, audio.Format{}, fmt.Errorf("playback: raw pcm: %w", err)
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, audio.Format{}, fmt.Errorf("playback: read pcm: %w", err)
		}
		frame := pcmFormat.Channels * audio.BytesPerSample
		return data[:len(data)-len(data)%frame], pcmFormat, nil
	default:
		return nil, audio.Format{}, fmt.Errorf("playback: unsupported encoding %q", enc)
	}
}

// decodeMP3 always yields interleaved stereo at the stream's sample rate.
func decodeMP3(r io.Reader) ([]byte, audio.Format, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("playback: mp3: %w", err)
	}
	var buf bytes.Buffer
	if n := dec.Length(); n > 0 {
		buf.Grow(int(n))
	}
	if _, err := io.Copy(&buf, dec); err != nil {
		return nil, audio.Format{}, fmt.Errorf("playback: mp3: %w", err)
	}
	raw := buf.Bytes()
	f := audio.Format{SampleRate: dec.SampleRate(), Channels: 2}
	return raw[:len(raw)-len(raw)%4], f, nil
}

// DecodeFile decodes a local .mp3 or .wav file.
func DecodeFile(path string) ([]byte, audio.Format, error) {
	var enc tts.Encoding
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		enc = tts.EncodingMP3
	case ".wav":
		enc = tts.EncodingWAV
	default:
		return nil, audio.Format{}, fmt.Errorf("playback: %s: unsupported file type", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("playback: %w", err)
	}
	defer f.Close()
	return Decode(f, enc, audio.Format{})
}
