package wav

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WAVFormat describes the PCM layout of a RIFF/WAVE file.
type WAVFormat struct {
	AudioFormat   uint16 // 1 = PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample/8
	BlockAlign    uint16 // NumChannels * BitsPerSample/8
	BitsPerSample uint16
}

// WAVHeader is the canonical 44-byte RIFF/WAVE header.
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // file size - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // audio data size
}

// NewWAVHeader builds a header for the given format and data size.
func NewWAVHeader(format WAVFormat, dataSize uint32) WAVHeader {
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   format.AudioFormat,
		NumChannels:   format.NumChannels,
		SampleRate:    format.SampleRate,
		ByteRate:      format.ByteRate,
		BlockAlign:    format.BlockAlign,
		BitsPerSample: format.BitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// Validate rejects formats this package cannot write.
func (f *WAVFormat) Validate() error {
	if f.AudioFormat != 1 {
		return fmt.Errorf("unsupported audio format: %d (expected 1 for PCM)", f.AudioFormat)
	}
	if f.BitsPerSample != 16 {
		return fmt.Errorf("unsupported bits per sample: %d (expected 16)", f.BitsPerSample)
	}
	if f.ByteRate != f.SampleRate*uint32(f.NumChannels)*uint32(f.BitsPerSample)/8 {
		return fmt.Errorf("invalid byte rate")
	}
	if f.BlockAlign != f.NumChannels*f.BitsPerSample/8 {
		return fmt.Errorf("invalid block align")
	}
	return nil
}

// Write serializes the header.
func (h *WAVHeader) Write(w io.Writer) error {
	return binary.Write(w, binary.LittleEndian, h)
}

// Read deserializes the header.
func (h *WAVHeader) Read(r io.Reader) error {
	return binary.Read(r, binary.LittleEndian, h)
}

// GetFormat extracts the format fields from a header.
func (h *WAVHeader) GetFormat() WAVFormat {
	return WAVFormat{
		AudioFormat:   h.AudioFormat,
		NumChannels:   h.NumChannels,
		SampleRate:    h.SampleRate,
		ByteRate:      h.ByteRate,
		BlockAlign:    h.BlockAlign,
		BitsPerSample: h.BitsPerSample,
	}
}

// StereoFormat returns the 16-bit stereo PCM format at the given rate,
// the layout used for call recordings.
func StereoFormat(sampleRate uint32) WAVFormat {
	return WAVFormat{
		AudioFormat:   1,
		NumChannels:   2,
		SampleRate:    sampleRate,
		ByteRate:      sampleRate * 4,
		BlockAlign:    4,
		BitsPerSample: 16,
	}
}
