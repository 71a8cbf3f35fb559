package pipeline

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestStats_EmptySnapshot(t *testing.T) {
	s := NewStats(10)
	snap := s.Snapshot()
	if snap.RoundTrip != (LatencyPercentiles{}) || snap.Turns != 0 {
		t.Errorf("empty snapshot = %+v", snap)
	}
}

func TestStats_Percentiles(t *testing.T) {
	s := NewStats(100)
	for i := 1; i <= 100; i++ {
		s.turn(time.Duration(i)*time.Millisecond, nil)
	}
	snap := s.Snapshot()
	if snap.RoundTrip.P50 != 50*time.Millisecond {
		t.Errorf("P50 = %v, want 50ms", snap.RoundTrip.P50)
	}
	if snap.RoundTrip.P95 != 95*time.Millisecond {
		t.Errorf("P95 = %v, want 95ms", snap.RoundTrip.P95)
	}
}

func TestStats_WindowKeepsNewestSamples(t *testing.T) {
	s := NewStats(3)
	for _, ms := range []int{1000, 1000, 1000, 1, 2, 3} {
		s.played(time.Duration(ms) * time.Millisecond)
	}
	if p95 := s.Snapshot().Playback.P95; p95 != 3*time.Millisecond {
		t.Errorf("P95 = %v, want 3ms after old samples rotate out", p95)
	}
}

func TestStats_FailedTurnsExcludedFromLatency(t *testing.T) {
	s := NewStats(10)
	s.turn(5*time.Second, errors.New("boom"))
	s.turn(10*time.Millisecond, nil)

	snap := s.Snapshot()
	if snap.Turns != 2 || snap.FailedTurns != 1 {
		t.Errorf("turns = %d failed = %d, want 2 and 1", snap.Turns, snap.FailedTurns)
	}
	if snap.RoundTrip.P95 != 10*time.Millisecond {
		t.Errorf("P95 = %v, want 10ms", snap.RoundTrip.P95)
	}
}

func TestStats_Counters(t *testing.T) {
	s := NewStats(0)
	s.frame()
	s.frame()
	s.frameDropped()
	s.utterance(time.Second, false)
	s.utterance(2*time.Second, true)
	s.utteranceDropped()

	snap := s.Snapshot()
	if snap.Frames != 2 || snap.FramesDropped != 1 {
		t.Errorf("frames = %d dropped = %d", snap.Frames, snap.FramesDropped)
	}
	if snap.Utterances != 2 || snap.Forced != 1 || snap.UtterancesDropped != 1 {
		t.Errorf("utterances = %d forced = %d dropped = %d", snap.Utterances, snap.Forced, snap.UtterancesDropped)
	}
	if snap.UtteranceLength.P95 != 2*time.Second {
		t.Errorf("utterance P95 = %v, want 2s", snap.UtteranceLength.P95)
	}
}

func TestStats_ConcurrentUse(t *testing.T) {
	s := NewStats(50)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				s.frame()
				s.turn(time.Duration(i)*time.Millisecond, nil)
				_ = s.Snapshot()
			}
		}()
	}
	wg.Wait()
	if got := s.Snapshot().Frames; got != 800 {
		t.Errorf("Frames = %d, want 800", got)
	}
}
