package playback

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Hadskad/Bloom-Academia-sub003/core/audio"
)

const testSampleRate = 16000

// chunkDuration is the playback length every test clip decodes to.
const chunkDuration = 10 * time.Millisecond

type playedSource struct {
	tag   byte
	start time.Duration
	end   time.Duration
}

// fakeSink is a playback engine with a virtual clock. Completion callbacks
// fire immediately when autoComplete is set and never otherwise, which lets
// tests pick between the natural and the forced completion paths.
type fakeSink struct {
	mu           sync.Mutex
	now          time.Duration
	plays        []playedSource
	autoComplete bool
	stopCalls    int
	closed       bool
}

func (f *fakeSink) Now() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeSink) Advance(d time.Duration) {
	f.mu.Lock()
	f.now += d
	f.mu.Unlock()
}

func (f *fakeSink) Play(pcm audio.PCM, start time.Duration, onDone func()) error {
	f.mu.Lock()
	f.plays = append(f.plays, playedSource{
		tag:   pcm.Data[0],
		start: start,
		end:   start + pcm.Duration(),
	})
	autoComplete := f.autoComplete
	f.mu.Unlock()

	if autoComplete {
		go onDone()
	}
	return nil
}

func (f *fakeSink) Stop() {
	f.mu.Lock()
	f.stopCalls++
	f.mu.Unlock()
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) playedTags() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	tags := make([]byte, len(f.plays))
	for i, play := range f.plays {
		tags[i] = play.tag
	}
	return tags
}

func (f *fakeSink) sources() []playedSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]playedSource(nil), f.plays...)
}

// testClip encodes a tag and a fail flag into a two-byte pseudo clip that
// testDecoder understands.
func testClip(tag byte, fail bool) []byte {
	flag := byte(0)
	if fail {
		flag = 1
	}
	return []byte{tag, flag}
}

// testDecoder sleeps a random, independent latency per clip so a later
// arrival can finish decoding before an earlier one would have.
func testDecoder(maxLatency time.Duration) DecodeFunc {
	return func(clip []byte) (audio.PCM, error) {
		if maxLatency > 0 {
			time.Sleep(time.Duration(rand.Int63n(int64(maxLatency))))
		}
		if clip[1] == 1 {
			return audio.PCM{}, fmt.Errorf("injected decode failure for chunk %d", clip[0])
		}

		data := make([]byte, int(audio.EncodingInfo{SampleRate: testSampleRate, Format: audio.EncodingLinear16}.BytesPerSecond())*int(chunkDuration.Milliseconds())/1000)
		data[0] = clip[0]
		return audio.PCM{Data: data, SampleRate: testSampleRate}, nil
	}
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestSchedulerPreservesArrivalOrderUnderRandomDecodeLatency(t *testing.T) {
	sink := &fakeSink{autoComplete: true}
	scheduler := NewScheduler(sink, WithDecoder(testDecoder(8*time.Millisecond)))
	defer scheduler.Close()
	epoch := scheduler.Init()

	const chunkCount = 24
	var wantTags []byte
	for i := range chunkCount {
		fail := i%7 == 3
		if !fail {
			wantTags = append(wantTags, byte(i))
		}
		if err := scheduler.Schedule(epoch, testClip(byte(i), fail)); err != nil {
			t.Fatalf("expected schedule %d to be accepted, got %v", i, err)
		}
	}
	scheduler.Finalize(epoch)

	waitFor(t, 5*time.Second, func() bool { return len(sink.playedTags()) == len(wantTags) })

	gotTags := sink.playedTags()
	for i, want := range wantTags {
		if gotTags[i] != want {
			t.Fatalf("playback order diverged from arrival order at position %d: got %d, want %d\nfull order: %v", i, gotTags[i], want, gotTags)
		}
	}
}

func TestSchedulerPlacesChunksGaplesslyWhenAheadOfRealTime(t *testing.T) {
	sink := &fakeSink{autoComplete: true}
	scheduler := NewScheduler(sink, WithDecoder(testDecoder(0)))
	defer scheduler.Close()
	epoch := scheduler.Init()

	for i := range 5 {
		if err := scheduler.Schedule(epoch, testClip(byte(i), false)); err != nil {
			t.Fatalf("schedule %d failed: %v", i, err)
		}
	}
	scheduler.Finalize(epoch)
	waitFor(t, time.Second, func() bool { return len(sink.sources()) == 5 })

	sources := sink.sources()
	for i := 1; i < len(sources); i++ {
		if sources[i].start != sources[i-1].end {
			t.Fatalf("expected chunk %d to start exactly at chunk %d's end (%v), got %v", i, i-1, sources[i-1].end, sources[i].start)
		}
	}
}

func TestSchedulerCatchesUpWithoutOverlapWhenBehindRealTime(t *testing.T) {
	sink := &fakeSink{autoComplete: true}
	scheduler := NewScheduler(sink, WithDecoder(testDecoder(0)))
	defer scheduler.Close()
	epoch := scheduler.Init()

	if err := scheduler.Schedule(epoch, testClip(0, false)); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	waitFor(t, time.Second, func() bool { return len(sink.sources()) == 1 })

	// The clock overtakes the first chunk's end before the next arrives.
	sink.Advance(5 * chunkDuration)

	if err := scheduler.Schedule(epoch, testClip(1, false)); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	waitFor(t, time.Second, func() bool { return len(sink.sources()) == 2 })

	sources := sink.sources()
	if sources[1].start < sources[0].end {
		t.Fatalf("chunks overlap: second starts at %v before first ends at %v", sources[1].start, sources[0].end)
	}
	if sources[1].start < 5*chunkDuration {
		t.Fatalf("chunk scheduled in the past: start %v, clock %v", sources[1].start, 5*chunkDuration)
	}
}

func TestSchedulerCompletionFiresExactlyOnceNaturally(t *testing.T) {
	sink := &fakeSink{autoComplete: true}
	scheduler := NewScheduler(sink, WithDecoder(testDecoder(3*time.Millisecond)))
	defer scheduler.Close()
	epoch := scheduler.Init()

	var fires atomic.Int32
	scheduler.OnAllPlayed(epoch, func() { fires.Add(1) })

	for i := range 4 {
		if err := scheduler.Schedule(epoch, testClip(byte(i), false)); err != nil {
			t.Fatalf("schedule %d failed: %v", i, err)
		}
	}
	scheduler.Finalize(epoch)

	waitFor(t, 2*time.Second, func() bool { return fires.Load() == 1 })
	time.Sleep(30 * time.Millisecond)
	if got := fires.Load(); got != 1 {
		t.Fatalf("expected completion to fire exactly once, got %d", got)
	}
}

func TestSchedulerForcesCompletionWhenCallbacksNeverArrive(t *testing.T) {
	sink := &fakeSink{autoComplete: false}
	scheduler := NewScheduler(sink,
		WithDecoder(testDecoder(0)),
		WithCompletionMargin(25*time.Millisecond),
	)
	defer scheduler.Close()
	epoch := scheduler.Init()

	var fires atomic.Int32
	scheduler.OnAllPlayed(epoch, func() { fires.Add(1) })

	if err := scheduler.Schedule(epoch, testClip(0, false)); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	scheduler.Finalize(epoch)

	// Remaining scheduled duration is one chunk; completion must be forced
	// shortly after that plus the margin even though the sink stays silent.
	waitFor(t, 2*time.Second, func() bool { return fires.Load() == 1 })
	time.Sleep(30 * time.Millisecond)
	if got := fires.Load(); got != 1 {
		t.Fatalf("expected forced completion to fire exactly once, got %d", got)
	}
}

func TestSchedulerCompletesWhenEveryDecodeFails(t *testing.T) {
	sink := &fakeSink{autoComplete: true}
	scheduler := NewScheduler(sink, WithDecoder(testDecoder(2*time.Millisecond)))
	defer scheduler.Close()
	epoch := scheduler.Init()

	var fires atomic.Int32
	scheduler.OnAllPlayed(epoch, func() { fires.Add(1) })

	for i := range 3 {
		if err := scheduler.Schedule(epoch, testClip(byte(i), true)); err != nil {
			t.Fatalf("schedule %d failed: %v", i, err)
		}
	}
	scheduler.Finalize(epoch)

	waitFor(t, 2*time.Second, func() bool { return fires.Load() == 1 })
	if got := len(sink.sources()); got != 0 {
		t.Fatalf("expected no sources to reach the sink, got %d", got)
	}
}

func TestSchedulerInitIsIdempotentBeforeScheduling(t *testing.T) {
	sink := &fakeSink{autoComplete: true}
	scheduler := NewScheduler(sink, WithDecoder(testDecoder(0)))
	defer scheduler.Close()

	scheduler.Init()
	scheduler.Init()

	stats := scheduler.Stats()
	if stats != (Stats{}) {
		t.Fatalf("expected all counters at zero after double init, got %+v", stats)
	}
}

func TestSchedulerStopSupersedesInFlightTurn(t *testing.T) {
	sink := &fakeSink{autoComplete: false}
	scheduler := NewScheduler(sink, WithDecoder(testDecoder(0)))
	defer scheduler.Close()
	epoch := scheduler.Init()

	var staleFires atomic.Int32
	scheduler.OnAllPlayed(epoch, func() { staleFires.Add(1) })

	for i := range 2 {
		if err := scheduler.Schedule(epoch, testClip(byte(i), false)); err != nil {
			t.Fatalf("schedule %d failed: %v", i, err)
		}
	}
	waitFor(t, time.Second, func() bool { return len(sink.sources()) == 2 })

	scheduler.Stop()

	if sink.stopCalls != 1 {
		t.Fatalf("expected the sink to be stopped once, got %d", sink.stopCalls)
	}
	if stats := scheduler.Stats(); stats != (Stats{}) {
		t.Fatalf("expected zeroed counters after stop, got %+v", stats)
	}

	// The next turn starts from a clean init and plays normally.
	nextEpoch := scheduler.Init()
	sink.mu.Lock()
	sink.autoComplete = true
	sink.mu.Unlock()

	var fires atomic.Int32
	scheduler.OnAllPlayed(nextEpoch, func() { fires.Add(1) })
	if err := scheduler.Schedule(nextEpoch, testClip(9, false)); err != nil {
		t.Fatalf("schedule after stop failed: %v", err)
	}
	scheduler.Finalize(nextEpoch)

	waitFor(t, time.Second, func() bool { return fires.Load() == 1 })
	if got := staleFires.Load(); got != 0 {
		t.Fatalf("expected the superseded turn's completion to never fire, got %d", got)
	}
}

func TestSchedulerRejectsScheduleAfterFinalize(t *testing.T) {
	sink := &fakeSink{autoComplete: true}
	scheduler := NewScheduler(sink, WithDecoder(testDecoder(0)))
	defer scheduler.Close()
	epoch := scheduler.Init()
	scheduler.Finalize(epoch)

	if err := scheduler.Schedule(epoch, testClip(0, false)); err == nil {
		t.Fatalf("expected schedule after finalize to be rejected")
	}
}

func TestSchedulerIgnoresCallsCarryingASupersededEpoch(t *testing.T) {
	sink := &fakeSink{autoComplete: true}
	scheduler := NewScheduler(sink, WithDecoder(testDecoder(0)))
	defer scheduler.Close()

	staleEpoch := scheduler.Init()

	// A new turn takes the scheduler while the old one is still winding down.
	scheduler.Stop()
	epoch := scheduler.Init()

	// The old turn's tail runs late: its finalize must not mark the new
	// turn finalized and its leftover chunk must never be queued.
	scheduler.Finalize(staleEpoch)
	if err := scheduler.Schedule(staleEpoch, testClip(7, false)); err != nil {
		t.Fatalf("expected the stale chunk to be dropped silently, got %v", err)
	}

	var fires, staleFires atomic.Int32
	scheduler.OnAllPlayed(epoch, func() { fires.Add(1) })
	scheduler.OnAllPlayed(staleEpoch, func() { staleFires.Add(1) })

	if err := scheduler.Schedule(epoch, testClip(1, false)); err != nil {
		t.Fatalf("expected the new turn's chunk to be accepted, got %v", err)
	}
	scheduler.Finalize(epoch)

	waitFor(t, time.Second, func() bool { return fires.Load() == 1 })
	if got := staleFires.Load(); got != 0 {
		t.Fatalf("expected the superseded turn's callback to stay unregistered, got %d fires", got)
	}
	if tags := sink.playedTags(); len(tags) != 1 || tags[0] != 1 {
		t.Fatalf("expected only the new turn's chunk to play, got %v", tags)
	}
}
