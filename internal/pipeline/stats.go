package pipeline

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Stats collects client-side latency samples and counters. Latencies are
// kept in bounded ring buffers from which percentiles are computed on demand.
//
// Thread-safe for concurrent use.
type Stats struct {
	mu sync.Mutex

	roundTrip latencyBuffer
	playback  latencyBuffer
	speech    latencyBuffer

	frames            int64
	framesDropped     int64
	utterances        int64
	forced            int64
	utterancesDropped int64
	turns             int64
	failedTurns       int64
}

// NewStats creates a Stats with the given window size (maximum number of
// latency samples retained per series).
func NewStats(windowSize int) *Stats {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &Stats{
		roundTrip: newLatencyBuffer(windowSize),
		playback:  newLatencyBuffer(windowSize),
		speech:    newLatencyBuffer(windowSize),
	}
}

func (s *Stats) frame() {
	s.mu.Lock()
	s.frames++
	s.mu.Unlock()
}

func (s *Stats) frameDropped() {
	s.mu.Lock()
	s.framesDropped++
	s.mu.Unlock()
}

func (s *Stats) utterance(d time.Duration, forced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utterances++
	if forced {
		s.forced++
	}
	s.speech.add(d)
}

func (s *Stats) utteranceDropped() {
	s.mu.Lock()
	s.utterancesDropped++
	s.mu.Unlock()
}

func (s *Stats) turn(roundTrip time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns++
	if err != nil {
		s.failedTurns++
		return
	}
	s.roundTrip.add(roundTrip)
}

func (s *Stats) played(d time.Duration) {
	s.mu.Lock()
	s.playback.add(d)
	s.mu.Unlock()
}

// LatencyPercentiles holds p50 and p95 values for a latency series.
type LatencyPercentiles struct {
	P50 time.Duration
	P95 time.Duration
}

// Snapshot is a point-in-time view of all client statistics.
type Snapshot struct {
	// RoundTrip is the time from posting an utterance to receiving the reply.
	RoundTrip LatencyPercentiles
	// Playback is the time spent synthesising and playing a reply.
	Playback LatencyPercentiles
	// UtteranceLength is the audio duration of emitted utterances.
	UtteranceLength LatencyPercentiles

	Frames            int64
	FramesDropped     int64
	Utterances        int64
	Forced            int64
	UtterancesDropped int64
	Turns             int64
	FailedTurns       int64
}

// Snapshot returns a point-in-time view of all statistics.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		RoundTrip:         s.roundTrip.percentiles(),
		Playback:          s.playback.percentiles(),
		UtteranceLength:   s.speech.percentiles(),
		Frames:            s.frames,
		FramesDropped:     s.framesDropped,
		Utterances:        s.utterances,
		Forced:            s.forced,
		UtterancesDropped: s.utterancesDropped,
		Turns:             s.turns,
		FailedTurns:       s.failedTurns,
	}
}

// latencyBuffer is a bounded ring buffer of duration samples.
type latencyBuffer struct {
	data []time.Duration
	pos  int
	full bool
}

func newLatencyBuffer(size int) latencyBuffer {
	return latencyBuffer{data: make([]time.Duration, size)}
}

func (lb *latencyBuffer) add(d time.Duration) {
	lb.data[lb.pos] = d
	lb.pos++
	if lb.pos >= len(lb.data) {
		lb.pos = 0
		lb.full = true
	}
}

func (lb *latencyBuffer) percentiles() LatencyPercentiles {
	n := lb.pos
	if lb.full {
		n = len(lb.data)
	}
	if n == 0 {
		return LatencyPercentiles{}
	}

	sorted := make([]time.Duration, n)
	copy(sorted, lb.data[:n])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return LatencyPercentiles{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
	}
}

// percentile returns the nearest-rank value at p (0.0-1.0) of a sorted slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
