package wav

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Writer streams 16-bit samples into a RIFF/WAVE container. The header
// is written up front with a zero data size and rewritten on Close once
// the real size is known.
type Writer struct {
	writer     io.WriteSeeker
	header     WAVHeader
	format     WAVFormat
	dataSize   uint32
	dataOffset int64
}

func NewWriter(writer io.WriteSeeker, format WAVFormat) (*Writer, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("invalid WAV format: %v", err)
	}

	w := &Writer{
		writer: writer,
		format: format,
		header: NewWAVHeader(format, 0),
	}

	if err := w.writeHeader(); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %v", err)
	}

	offset, err := writer.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("failed to get data offset: %v", err)
	}
	w.dataOffset = offset

	return w, nil
}

// NewFileWriter creates the file and wraps it in a Writer.
func NewFileWriter(filename string, format WAVFormat) (*Writer, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %v", err)
	}

	writer, err := NewWriter(file, format)
	if err != nil {
		file.Close()
		return nil, err
	}

	return writer, nil
}

func (w *Writer) writeHeader() error {
	return w.header.Write(w.writer)
}

// WriteSamples appends samples to the data chunk. For multi-channel
// formats the samples must already be interleaved.
func (w *Writer) WriteSamples(samples []int16) error {
	rawData := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(rawData[i*2:i*2+2], uint16(s))
	}

	n, err := w.writer.Write(rawData)
	if err != nil {
		return fmt.Errorf("failed to write samples: %v", err)
	}

	w.dataSize += uint32(n)
	return nil
}

// Close rewrites the header with the final data size and closes the
// underlying writer if it is closable.
func (w *Writer) Close() error {
	w.header.Subchunk2Size = w.dataSize
	w.header.ChunkSize = 36 + w.dataSize

	if _, err := w.writer.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to start: %v", err)
	}

	if err := w.writeHeader(); err != nil {
		return fmt.Errorf("failed to update header: %v", err)
	}

	if closer, ok := w.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// GetDataSize returns the bytes written to the data chunk so far.
func (w *Writer) GetDataSize() uint32 {
	return w.dataSize
}

// GetFormat returns the writer's format.
func (w *Writer) GetFormat() WAVFormat {
	return w.format
}
