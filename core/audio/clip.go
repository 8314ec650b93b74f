package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// PCM is one decoded clip: mono signed 16-bit little-endian samples ready for
// a playback engine.
type PCM struct {
	Data       []byte
	SampleRate int
}

func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return EncodingInfo{SampleRate: p.SampleRate, Format: EncodingLinear16}.Duration(len(p.Data))
}

func (p PCM) IsZero() bool {
	return len(p.Data) == 0
}

// DecodeClip decodes one self-contained WAV clip into mono 16-bit PCM.
// Multi-channel clips are downmixed by averaging; other source bit depths are
// rescaled to 16 bits.
func DecodeClip(clip []byte) (PCM, error) {
	decoder := wav.NewDecoder(bytes.NewReader(clip))
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return PCM{}, fmt.Errorf("not a valid wav clip")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return PCM{}, fmt.Errorf("failed to read clip samples: %w", err)
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return PCM{}, fmt.Errorf("clip contains no samples")
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}

	shift := 0
	bias := 0
	switch buf.SourceBitDepth {
	case 0, 16:
	case 8:
		// 8-bit WAV samples are unsigned with a 128 midpoint.
		shift = 8
		bias = 128
	case 24:
		shift = -8
	case 32:
		shift = -16
	default:
		return PCM{}, fmt.Errorf("unsupported clip bit depth %d", buf.SourceBitDepth)
	}

	frameCount := len(buf.Data) / channels
	data := make([]byte, 0, frameCount*2)
	sample := make([]byte, 2)
	for frame := range frameCount {
		mixed := 0
		for channel := range channels {
			mixed += buf.Data[frame*channels+channel]
		}
		mixed = mixed/channels - bias
		if shift > 0 {
			mixed <<= shift
		} else if shift < 0 {
			mixed >>= -shift
		}

		binary.LittleEndian.PutUint16(sample, uint16(int16(mixed)))
		data = append(data, sample...)
	}

	return PCM{Data: data, SampleRate: buf.Format.SampleRate}, nil
}

// EncodeClip wraps mono 16-bit PCM into a self-contained WAV clip. Synthesis
// adapters use it to hand the scheduler one decodable unit per sentence.
func EncodeClip(pcm PCM) ([]byte, error) {
	if pcm.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", pcm.SampleRate)
	}

	samples := make([]int, len(pcm.Data)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm.Data[i*2:])))
	}

	sink := &seekableBuffer{}
	encoder := wav.NewEncoder(sink, pcm.SampleRate, 16, 1, 1)
	if err := encoder.Write(&gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: 1, SampleRate: pcm.SampleRate},
		SourceBitDepth: 16,
		Data:           samples,
	}); err != nil {
		return nil, fmt.Errorf("failed to write clip samples: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize clip: %w", err)
	}

	return sink.data, nil
}

// seekableBuffer adapts an in-memory byte slice to the io.WriteSeeker the wav
// encoder needs for header rewrites.
type seekableBuffer struct {
	data []byte
	pos  int
}

func (b *seekableBuffer) Write(p []byte) (int, error) {
	if grow := b.pos + len(p) - len(b.data); grow > 0 {
		b.data = append(b.data, make([]byte, grow)...)
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(b.pos) + offset
	case io.SeekEnd:
		pos = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("unsupported whence %d", whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("negative seek position %d", pos)
	}

	b.pos = int(pos)
	return pos, nil
}
