package audio

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// Timeline is the shared scheduling surface behind the playback engines. It
// tracks a byte cursor advanced by the device render callback; the cursor is
// the engine's monotonic playback clock. Sources are placed at absolute
// positions on that clock and are rendered with silence in any gaps, so
// back-to-back placement produces gapless output.
type Timeline struct {
	encoding EncodingInfo

	mu      sync.Mutex
	cursor  int64
	sources []*timelineSource
}

type timelineSource struct {
	data      []byte
	startByte int64
	onDone    func()
	done      bool
}

func NewTimeline(encoding EncodingInfo) *Timeline {
	if encoding.IsZero() {
		encoding = GetDefaultEncodingInfo()
	}
	return &Timeline{encoding: encoding}
}

func (t *Timeline) Encoding() EncodingInfo {
	return t.encoding
}

// Now returns the playback clock: how much audio the device has rendered
// since the timeline was created.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.encoding.Duration(int(t.cursor))
}

// Add places one decoded clip at start on the playback clock. Clips with a
// different sample rate are resampled to the engine rate first. onDone fires
// from a render pass once the cursor passes the clip's end.
func (t *Timeline) Add(pcm PCM, start time.Duration, onDone func()) error {
	if pcm.IsZero() {
		return fmt.Errorf("no samples to place")
	}
	if pcm.SampleRate != t.encoding.SampleRate {
		pcm = Resample(pcm, t.encoding.SampleRate)
	}

	bytesPerSecond := t.encoding.BytesPerSecond()
	startByte := int64(float64(start) / float64(time.Second) * float64(bytesPerSecond))
	// Keep sample alignment so int16 frames never straddle a byte boundary.
	startByte -= startByte % int64(t.encoding.Format.ByteSize())

	if onDone == nil {
		onDone = func() {}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if startByte < t.cursor {
		startByte = t.cursor
	}
	t.sources = append(t.sources, &timelineSource{
		data:      pcm.Data,
		startByte: startByte,
		onDone:    onDone,
	})
	return nil
}

// Render fills out with the next len(out) bytes of the timeline and advances
// the cursor. Regions not covered by any source are silence. Sources whose
// end the cursor passes have their completion fired on a separate goroutine
// so a slow callback can never stall the device.
func (t *Timeline) Render(out []byte) {
	for i := range out {
		out[i] = t.encoding.SilenceValue()
	}

	t.mu.Lock()
	windowStart := t.cursor
	windowEnd := windowStart + int64(len(out))

	var finished []func()
	remaining := t.sources[:0]
	for _, source := range t.sources {
		sourceEnd := source.startByte + int64(len(source.data))
		if overlapStart := max(source.startByte, windowStart); overlapStart < min(sourceEnd, windowEnd) {
			overlapEnd := min(sourceEnd, windowEnd)
			copy(out[overlapStart-windowStart:overlapEnd-windowStart], source.data[overlapStart-source.startByte:overlapEnd-source.startByte])
		}

		if sourceEnd <= windowEnd {
			if !source.done {
				source.done = true
				finished = append(finished, source.onDone)
			}
			continue
		}
		remaining = append(remaining, source)
	}
	t.sources = remaining
	t.cursor = windowEnd
	t.mu.Unlock()

	if len(finished) > 0 {
		go func() {
			for _, onDone := range finished {
				onDone()
			}
		}()
	}
}

// RenderSamples is Render for devices that exchange int16 frames.
func (t *Timeline) RenderSamples(out []int16) {
	scratch := make([]byte, len(out)*2)
	t.Render(scratch)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(scratch[i*2:]))
	}
}

// Clear drops every placed source without firing completions. The cursor
// keeps running so the clock stays monotonic across turns.
func (t *Timeline) Clear() {
	t.mu.Lock()
	t.sources = nil
	t.mu.Unlock()
}

// Resample converts mono 16-bit PCM to the target rate by linear
// interpolation. Quality is secondary here: clips normally arrive at the
// engine rate and this only defends against a misconfigured synthesizer.
func Resample(pcm PCM, targetRate int) PCM {
	if targetRate <= 0 || pcm.SampleRate == targetRate || pcm.IsZero() {
		return PCM{Data: pcm.Data, SampleRate: targetRate}
	}

	sourceCount := len(pcm.Data) / 2
	targetCount := int(int64(sourceCount) * int64(targetRate) / int64(pcm.SampleRate))
	data := make([]byte, targetCount*2)
	for i := range targetCount {
		position := float64(i) * float64(pcm.SampleRate) / float64(targetRate)
		left := int(position)
		right := min(left+1, sourceCount-1)
		fraction := position - float64(left)

		leftSample := float64(int16(binary.LittleEndian.Uint16(pcm.Data[left*2:])))
		rightSample := float64(int16(binary.LittleEndian.Uint16(pcm.Data[right*2:])))
		value := int16(leftSample*(1-fraction) + rightSample*fraction)
		binary.LittleEndian.PutUint16(data[i*2:], uint16(value))
	}

	return PCM{Data: data, SampleRate: targetRate}
}
