package audio

import "time"

const (
	DefaultSampleRate = 16000
	DefaultFormat     = "linear16"
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: encodingFormat(DefaultFormat)}
}

// EncodingInfo describes the raw sample framing shared between synthesis
// clients, clip decoding and the playback engines.
type EncodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

// BytesPerSecond returns the raw throughput of the encoding, or 0 when the
// encoding is unknown.
func (e EncodingInfo) BytesPerSecond() int {
	byteSize := e.Format.ByteSize()
	if byteSize <= 0 || e.SampleRate <= 0 {
		return 0
	}
	return e.SampleRate * byteSize
}

// Duration converts a raw byte count into playback time under this encoding.
func (e EncodingInfo) Duration(byteCount int) time.Duration {
	bytesPerSecond := e.BytesPerSecond()
	if bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(float64(byteCount) / float64(bytesPerSecond) * float64(time.Second))
}

// SilenceValue is the byte that renders as silence under this encoding.
func (e EncodingInfo) SilenceValue() byte {
	switch e.Format {
	case EncodingMulaw:
		return 0xFF
	case EncodingALaw:
		return 0xD5
	}
	return 0x00
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case EncodingMulaw, EncodingALaw:
		return 1
	case EncodingLinear16:
		return 2
	}
	return -1
}

const (
	EncodingMulaw    encodingFormat = "mulaw"
	EncodingALaw     encodingFormat = "alaw"
	EncodingLinear16 encodingFormat = "linear16"
)
