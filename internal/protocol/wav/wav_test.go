package wav

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWAVReadWrite(t *testing.T) {
	format := StereoFormat(24000)

	testData := make([]int16, 24000) // half a second of stereo frames
	for i := range testData {
		testData[i] = int16(i % 32768)
	}

	filename := filepath.Join(t.TempDir(), "test.wav")

	writer, err := NewFileWriter(filename, format)
	require.NoError(t, err)

	err = writer.WriteSamples(testData)
	require.NoError(t, err)

	err = writer.Close()
	require.NoError(t, err)

	file, err := os.Open(filename)
	require.NoError(t, err)
	defer file.Close()

	reader, err := NewReader(file)
	require.NoError(t, err)

	assert.Equal(t, format, reader.GetFormat())
	assert.Equal(t, uint32(len(testData)*2), reader.GetDataSize())

	readData := make([]int16, len(testData))
	n, err := reader.ReadSamples(readData)
	require.NoError(t, err)
	assert.Equal(t, len(testData), n)
	assert.Equal(t, testData, readData[:n])
}

func TestWAVFormatValidate(t *testing.T) {
	format := StereoFormat(24000)
	assert.NoError(t, format.Validate())

	bad := format
	bad.ByteRate = 1
	assert.Error(t, bad.Validate())

	bad = format
	bad.AudioFormat = 3
	assert.Error(t, bad.Validate())
}
