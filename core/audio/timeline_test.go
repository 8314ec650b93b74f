package audio

import (
	"testing"
	"time"
)

func TestTimelineRendersPlacedSourcesAndAdvancesClock(t *testing.T) {
	timeline := NewTimeline(EncodingInfo{SampleRate: 16000, Format: EncodingLinear16})

	pcm := PCM{Data: []byte{1, 2, 3, 4}, SampleRate: 16000}
	completed := make(chan struct{})
	if err := timeline.Add(pcm, 0, func() { close(completed) }); err != nil {
		t.Fatalf("expected add to succeed, got %v", err)
	}

	out := make([]byte, 8)
	timeline.Render(out)

	for i, want := range []byte{1, 2, 3, 4, 0, 0, 0, 0} {
		if out[i] != want {
			t.Fatalf("expected rendered byte %d to be %d, got %d", i, want, out[i])
		}
	}
	select {
	case <-completed:
	case <-time.After(time.Second):
		t.Fatalf("expected completion to fire after the cursor passed the source")
	}
	if got, want := timeline.Now(), (EncodingInfo{SampleRate: 16000, Format: EncodingLinear16}).Duration(8); got != want {
		t.Fatalf("expected clock at %v, got %v", want, got)
	}
}

func TestTimelineFillsGapsWithSilence(t *testing.T) {
	timeline := NewTimeline(EncodingInfo{SampleRate: 16000, Format: EncodingLinear16})

	// Placed two bytes into the future (one sample at 16kHz is 62.5µs).
	start := timeline.Encoding().Duration(2)
	if err := timeline.Add(PCM{Data: []byte{9, 9}, SampleRate: 16000}, start, nil); err != nil {
		t.Fatalf("expected add to succeed, got %v", err)
	}

	out := make([]byte, 4)
	timeline.Render(out)

	for i, want := range []byte{0, 0, 9, 9} {
		if out[i] != want {
			t.Fatalf("expected rendered byte %d to be %d, got %d", i, want, out[i])
		}
	}
}

func TestTimelineClearDropsSourcesWithoutCompleting(t *testing.T) {
	timeline := NewTimeline(GetDefaultEncodingInfo())

	fired := false
	if err := timeline.Add(PCM{Data: make([]byte, 64), SampleRate: DefaultSampleRate}, 0, func() { fired = true }); err != nil {
		t.Fatalf("expected add to succeed, got %v", err)
	}
	timeline.Clear()

	out := make([]byte, 64)
	timeline.Render(out)

	if fired {
		t.Fatalf("expected cleared source to never fire completion")
	}
	for i := range out {
		if out[i] != 0 {
			t.Fatalf("expected silence after clear, got %d at %d", out[i], i)
		}
	}
}

func TestResampleHalvesSampleCount(t *testing.T) {
	pcm := PCM{Data: make([]byte, 3200), SampleRate: 32000}

	resampled := Resample(pcm, 16000)

	if resampled.SampleRate != 16000 {
		t.Fatalf("expected target rate 16000, got %d", resampled.SampleRate)
	}
	if len(resampled.Data) != 1600 {
		t.Fatalf("expected 1600 bytes after halving, got %d", len(resampled.Data))
	}
}
