package compression

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repeatedPayload(n int) []byte {
	return bytes.Repeat([]byte("hello-world-compression-fixture-"), n)
}

func TestCompressPassesThroughSmallPayloads(t *testing.T) {
	c := NewCompressor(Config{MinBytes: 1024}, nil)

	result, err := c.Compress([]byte("tiny"), AlgorithmGzip)
	require.NoError(t, err)
	assert.Equal(t, AlgorithmNone, result.Algorithm)
	assert.Equal(t, []byte("tiny"), result.Data)
}

func TestCompressGzipRoundTrips(t *testing.T) {
	c := NewCompressor(Config{MinBytes: 16}, nil)
	data := repeatedPayload(100)

	result, err := c.Compress(data, AlgorithmGzip)
	require.NoError(t, err)
	assert.Equal(t, AlgorithmGzip, result.Algorithm)
	assert.Less(t, result.CompressedSize, result.OriginalSize)

	out, err := c.Decompress(result.Data, AlgorithmGzip)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestCompressZstdRoundTrips(t *testing.T) {
	c := NewCompressor(Config{MinBytes: 16}, nil)
	data := repeatedPayload(200)

	result, err := c.Compress(data, AlgorithmZstd)
	require.NoError(t, err)
	assert.Equal(t, AlgorithmZstd, result.Algorithm)

	out, err := c.Decompress(result.Data, AlgorithmZstd)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestCompressLZ4RoundTrips(t *testing.T) {
	c := NewCompressor(Config{MinBytes: 16}, nil)
	data := repeatedPayload(150)

	result, err := c.Compress(data, AlgorithmLZ4)
	require.NoError(t, err)
	assert.Equal(t, AlgorithmLZ4, result.Algorithm)

	out, err := c.Decompress(result.Data, AlgorithmLZ4)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestCompressSnappyRoundTrips(t *testing.T) {
	c := NewCompressor(Config{MinBytes: 16}, nil)
	data := repeatedPayload(150)

	result, err := c.Compress(data, AlgorithmSnappy)
	require.NoError(t, err)
	assert.Equal(t, AlgorithmSnappy, result.Algorithm)

	out, err := c.Decompress(result.Data, AlgorithmSnappy)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestCompressAutoSelectsBySize(t *testing.T) {
	c := NewCompressor(Config{MinBytes: 16}, nil)

	small, err := c.Compress(repeatedPayload(10), AlgorithmAuto)
	require.NoError(t, err)
	assert.Equal(t, AlgorithmLZ4, small.Algorithm)

	medium, err := c.Compress(repeatedPayload(2000), AlgorithmAuto)
	require.NoError(t, err)
	assert.Equal(t, AlgorithmGzip, medium.Algorithm)
}

func TestCompressDisabledAlgorithmPassesThrough(t *testing.T) {
	c := NewCompressor(Config{
		MinBytes:   16,
		Algorithms: map[Algorithm]AlgorithmConfig{AlgorithmGzip: {Enabled: false}},
	}, nil)

	result, err := c.Compress(repeatedPayload(100), AlgorithmGzip)
	require.NoError(t, err)
	assert.Equal(t, AlgorithmNone, result.Algorithm)
}

func TestContentEncodingMapsKnownAlgorithms(t *testing.T) {
	assert.Equal(t, "gzip", ContentEncoding(AlgorithmGzip))
	assert.Equal(t, "deflate", ContentEncoding(AlgorithmZlib))
	assert.Equal(t, "zstd", ContentEncoding(AlgorithmZstd))
	assert.Equal(t, "", ContentEncoding(AlgorithmNone))
}
