package audio

import (
	"fmt"
	"time"
)

// 格式参数上下限
const (
	MaxChannels    = 16
	MaxSampleRate  = 768000
	MaxSampleWidth = 4
)

// Format 原始 PCM 流的格式参数，会话建立时确定，整个会话内不变
type Format struct {
	Channels    int `json:"channels" yaml:"channels"`
	SampleRate  int `json:"sample_rate" yaml:"sample_rate"`
	SampleWidth int `json:"sample_width" yaml:"sample_width"` // 每个采样的字节数
}

// DefaultFormat returns 16-bit mono at 44.1 kHz.
func DefaultFormat() Format {
	return Format{Channels: 1, SampleRate: 44100, SampleWidth: 2}
}

// Validate checks the format parameters are within supported bounds.
func (f Format) Validate() error {
	if f.Channels < 1 || f.Channels > MaxChannels {
		return fmt.Errorf("audio channels must be between 1 and %d, got %d", MaxChannels, f.Channels)
	}
	if f.SampleRate < 1 || f.SampleRate > MaxSampleRate {
		return fmt.Errorf("audio sample rate must be between 1 and %d, got %d", MaxSampleRate, f.SampleRate)
	}
	if f.SampleWidth < 1 || f.SampleWidth > MaxSampleWidth {
		return fmt.Errorf("audio sample width must be between 1 and %d bytes, got %d", MaxSampleWidth, f.SampleWidth)
	}
	return nil
}

// BlockAlign returns the size in bytes of one frame (one sample per channel).
func (f Format) BlockAlign() int {
	return f.Channels * f.SampleWidth
}

// ByteRate returns bytes per second of audio.
func (f Format) ByteRate() int {
	return f.SampleRate * f.BlockAlign()
}

// BitsPerSample returns the sample depth in bits.
func (f Format) BitsPerSample() int {
	return f.SampleWidth * 8
}

// Frames returns the number of whole frames in n bytes.
func (f Format) Frames(n int) int {
	return n / f.BlockAlign()
}

// Aligned returns the largest multiple of BlockAlign not exceeding n.
func (f Format) Aligned(n int) int {
	return f.Frames(n) * f.BlockAlign()
}

// Seconds returns the duration in seconds of n bytes of audio.
func (f Format) Seconds(n int) float64 {
	return float64(f.Frames(n)) / float64(f.SampleRate)
}

// Duration returns the duration of n bytes of audio.
func (f Format) Duration(n int) time.Duration {
	return time.Duration(f.Frames(n)) * time.Second / time.Duration(f.SampleRate)
}

// BytesInDuration returns the number of bytes in the given duration,
// rounded down to whole frames.
func (f Format) BytesInDuration(d time.Duration) int {
	frames := int64(time.Duration(f.SampleRate) * d / time.Second)
	return int(frames) * f.BlockAlign()
}

// String returns a human-readable representation of the format.
func (f Format) String() string {
	return fmt.Sprintf("audio/L%d; rate=%d; channels=%d", f.BitsPerSample(), f.SampleRate, f.Channels)
}
