package wav

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Reader decodes a RIFF/WAVE file, locating the fmt and data chunks.
type Reader struct {
	reader     io.ReadSeeker
	format     WAVFormat
	dataOffset int64
	dataSize   uint32
}

func NewReader(reader io.ReadSeeker) (*Reader, error) {
	r := &Reader{
		reader: reader,
	}

	if err := r.parseWAV(); err != nil {
		return nil, fmt.Errorf("failed to parse WAV file: %v", err)
	}

	return r, nil
}

func (r *Reader) parseWAV() error {
	var riffID [4]byte
	var riffSize uint32
	var waveID [4]byte

	if err := binary.Read(r.reader, binary.LittleEndian, &riffID); err != nil {
		return fmt.Errorf("failed to read RIFF ID: %v", err)
	}
	if err := binary.Read(r.reader, binary.LittleEndian, &riffSize); err != nil {
		return fmt.Errorf("failed to read RIFF size: %v", err)
	}
	if err := binary.Read(r.reader, binary.LittleEndian, &waveID); err != nil {
		return fmt.Errorf("failed to read WAVE ID: %v", err)
	}

	if string(riffID[:]) != "RIFF" {
		return fmt.Errorf("not a RIFF file")
	}
	if string(waveID[:]) != "WAVE" {
		return fmt.Errorf("not a WAVE file")
	}

	var chunkID [4]byte
	var chunkSize uint32
	var foundFmt, foundData bool

	for !foundFmt || !foundData {
		if err := binary.Read(r.reader, binary.LittleEndian, &chunkID); err != nil {
			return fmt.Errorf("failed to read chunk ID: %v", err)
		}
		if err := binary.Read(r.reader, binary.LittleEndian, &chunkSize); err != nil {
			return fmt.Errorf("failed to read chunk size: %v", err)
		}

		switch string(chunkID[:]) {
		case "fmt ":
			if err := binary.Read(r.reader, binary.LittleEndian, &r.format); err != nil {
				return fmt.Errorf("failed to read format chunk: %v", err)
			}
			foundFmt = true

			// Skip any extension past the basic PCM format block.
			remaining := int64(chunkSize) - int64(binary.Size(r.format))
			if remaining > 0 {
				if _, err := r.reader.Seek(remaining, io.SeekCurrent); err != nil {
					return fmt.Errorf("failed to seek past extra format data: %v", err)
				}
			}

		case "data":
			offset, err := r.reader.Seek(0, io.SeekCurrent)
			if err != nil {
				return fmt.Errorf("failed to get data offset: %v", err)
			}
			r.dataOffset = offset
			r.dataSize = chunkSize
			foundData = true

			if _, err := r.reader.Seek(int64(chunkSize), io.SeekCurrent); err != nil {
				return fmt.Errorf("failed to seek past data chunk: %v", err)
			}

		default:
			if _, err := r.reader.Seek(int64(chunkSize), io.SeekCurrent); err != nil {
				return fmt.Errorf("failed to seek past chunk: %v", err)
			}
		}
	}

	if err := r.format.Validate(); err != nil {
		return fmt.Errorf("invalid WAV format: %v", err)
	}

	_, err := r.reader.Seek(r.dataOffset, io.SeekStart)
	if err != nil {
		return fmt.Errorf("failed to seek to data start: %v", err)
	}

	return nil
}

// ReadSamples fills the slice with samples from the data chunk and
// returns how many were read.
func (r *Reader) ReadSamples(samples []int16) (int, error) {
	bytesToRead := len(samples) * 2

	rawData := make([]byte, bytesToRead)
	n, err := r.reader.Read(rawData)
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("failed to read samples: %v", err)
	}

	samplesRead := n / 2
	for i := 0; i < samplesRead; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(rawData[i*2 : i*2+2]))
	}

	if err == io.EOF {
		return samplesRead, io.EOF
	}
	return samplesRead, nil
}

// GetFormat returns the parsed format.
func (r *Reader) GetFormat() WAVFormat {
	return r.format
}

// GetDataSize returns the size of the data chunk in bytes.
func (r *Reader) GetDataSize() uint32 {
	return r.dataSize
}

// Close closes the underlying reader if it is closable.
func (r *Reader) Close() error {
	if closer, ok := r.reader.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
