// Package compression picks and applies a wire-compression algorithm for
// outbound adapter bodies (spec §4.1's AdapterConfig.Compress), following
// the teacher's pooled multi-algorithm HTTPCompressor: a writer pool per
// algorithm, Prometheus histograms for ratio/latency, and a size-based
// auto-selector for when the operator asks for "auto" rather than naming
// one algorithm.
package compression

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Algorithm names a supported compression codec.
type Algorithm string

const (
	AlgorithmGzip   Algorithm = "gzip"
	AlgorithmZlib   Algorithm = "zlib"
	AlgorithmZstd   Algorithm = "zstd"
	AlgorithmLZ4    Algorithm = "lz4"
	AlgorithmSnappy Algorithm = "snappy"
	AlgorithmAuto   Algorithm = "auto"
	AlgorithmNone   Algorithm = "none"
)

// Config configures a Compressor.
type Config struct {
	DefaultAlgorithm Algorithm `yaml:"default_algorithm"`
	MinBytes         int       `yaml:"min_bytes"`

	// Algorithms holds per-algorithm overrides; any algorithm absent from
	// this map gets NewCompressor's built-in defaults.
	Algorithms map[Algorithm]AlgorithmConfig `yaml:"algorithms"`
}

// AlgorithmConfig is a per-algorithm override.
type AlgorithmConfig struct {
	Enabled bool `yaml:"enabled"`
	Level   int  `yaml:"level"`
	MinSize int  `yaml:"min_size"`
}

// Result is the outcome of a Compress call.
type Result struct {
	Data           []byte
	Algorithm      Algorithm
	OriginalSize   int
	CompressedSize int
	Ratio          float64
	Encoding       string
}

// Compressor compresses and decompresses adapter payloads across a fixed
// set of algorithms, pooling writers per algorithm to avoid an allocation
// per Send.
type Compressor struct {
	config Config
	logger *logrus.Logger
	pools  map[Algorithm]*compressionPool
	mutex  sync.RWMutex

	compressionRatio  *prometheus.HistogramVec
	algorithmsUsed    *prometheus.CounterVec
	compressionErrors *prometheus.CounterVec
}

type compressionPool struct {
	gzipPool   sync.Pool
	zlibPool   sync.Pool
	zstdPool   sync.Pool
	lz4Pool    sync.Pool
}

var (
	metricsOnce sync.Once

	sharedCompressionRatio  *prometheus.HistogramVec
	sharedAlgorithmsUsed    *prometheus.CounterVec
	sharedCompressionErrors *prometheus.CounterVec
)

// registerSharedMetrics registers the package's Prometheus collectors
// exactly once, regardless of how many Compressor instances a process
// constructs. The teacher's version skipped registration entirely after
// hitting a duplicate-registration panic from building one metric set per
// instance; sync.Once is the fix, not disabling metrics.
func registerSharedMetrics() {
	metricsOnce.Do(func() {
		sharedCompressionRatio = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hie_engine_compression_ratio",
			Help:    "Compressed size over original size, by algorithm",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		}, []string{"algorithm"})

		sharedAlgorithmsUsed = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hie_engine_compression_algorithm_used_total",
			Help: "Compress calls completed, by algorithm",
		}, []string{"algorithm"})

		sharedCompressionErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hie_engine_compression_errors_total",
			Help: "Compress calls that failed, by algorithm",
		}, []string{"algorithm"})

		prometheus.MustRegister(sharedCompressionRatio, sharedAlgorithmsUsed, sharedCompressionErrors)
	})
}

// NewCompressor builds a Compressor from config.
func NewCompressor(config Config, logger *logrus.Logger) *Compressor {
	if logger == nil {
		logger = logrus.New()
	}
	if config.DefaultAlgorithm == "" {
		config.DefaultAlgorithm = AlgorithmGzip
	}
	if config.MinBytes == 0 {
		config.MinBytes = 1024
	}
	if config.Algorithms == nil {
		config.Algorithms = make(map[Algorithm]AlgorithmConfig)
	}

	defaults := map[Algorithm]AlgorithmConfig{
		AlgorithmGzip:   {Enabled: true, Level: 6, MinSize: 1024},
		AlgorithmZlib:   {Enabled: true, Level: 6, MinSize: 1024},
		AlgorithmZstd:   {Enabled: true, Level: 3, MinSize: 1024},
		AlgorithmLZ4:    {Enabled: true, Level: 1, MinSize: 1024},
		AlgorithmSnappy: {Enabled: true, Level: 0, MinSize: 1024},
	}
	for alg, cfg := range defaults {
		if _, exists := config.Algorithms[alg]; !exists {
			config.Algorithms[alg] = cfg
		}
	}

	registerSharedMetrics()

	c := &Compressor{
		config:            config,
		logger:            logger,
		pools:             make(map[Algorithm]*compressionPool),
		compressionRatio:  sharedCompressionRatio,
		algorithmsUsed:    sharedAlgorithmsUsed,
		compressionErrors: sharedCompressionErrors,
	}
	c.initializePools()
	return c
}

func (c *Compressor) initializePools() {
	for algorithm := range c.config.Algorithms {
		pool := &compressionPool{}

		switch algorithm {
		case AlgorithmGzip:
			level := c.config.Algorithms[algorithm].Level
			pool.gzipPool = sync.Pool{New: func() interface{} {
				w, _ := gzip.NewWriterLevel(nil, level)
				return w
			}}
		case AlgorithmZlib:
			level := c.config.Algorithms[algorithm].Level
			pool.zlibPool = sync.Pool{New: func() interface{} {
				w, _ := zlib.NewWriterLevel(nil, level)
				return w
			}}
		case AlgorithmZstd:
			level := c.config.Algorithms[algorithm].Level
			pool.zstdPool = sync.Pool{New: func() interface{} {
				w, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
				return w
			}}
		case AlgorithmLZ4:
			pool.lz4Pool = sync.Pool{New: func() interface{} {
				return lz4.NewWriter(nil)
			}}
		case AlgorithmSnappy:
			// stateless, no pool needed
		}

		c.pools[algorithm] = pool
	}
}

// Compress compresses data with algorithm, or with Config.DefaultAlgorithm
// when algorithm is empty. AlgorithmAuto picks a codec from data's size.
// Payloads under MinBytes, or for an algorithm the config disabled, pass
// through uncompressed with Algorithm set to AlgorithmNone.
func (c *Compressor) Compress(data []byte, algorithm Algorithm) (*Result, error) {
	if len(data) < c.config.MinBytes {
		return passthrough(data), nil
	}

	if algorithm == AlgorithmAuto {
		algorithm = c.selectOptimalAlgorithm(data)
	}
	if algorithm == "" {
		algorithm = c.config.DefaultAlgorithm
	}

	if algConfig, exists := c.config.Algorithms[algorithm]; !exists || !algConfig.Enabled {
		return passthrough(data), nil
	}

	compressed, err := c.compressWithAlgorithm(data, algorithm)
	if err != nil {
		c.compressionErrors.WithLabelValues(string(algorithm)).Inc()
		return nil, fmt.Errorf("compression failed with %s: %w", algorithm, err)
	}

	ratio := float64(len(compressed)) / float64(len(data))
	c.compressionRatio.WithLabelValues(string(algorithm)).Observe(ratio)
	c.algorithmsUsed.WithLabelValues(string(algorithm)).Inc()

	return &Result{
		Data:           compressed,
		Algorithm:      algorithm,
		OriginalSize:   len(data),
		CompressedSize: len(compressed),
		Ratio:          ratio,
		Encoding:       ContentEncoding(algorithm),
	}, nil
}

func passthrough(data []byte) *Result {
	return &Result{Data: data, Algorithm: AlgorithmNone, OriginalSize: len(data), CompressedSize: len(data), Ratio: 1.0}
}

func (c *Compressor) selectOptimalAlgorithm(data []byte) Algorithm {
	size := len(data)
	switch {
	case size < 4*1024:
		return AlgorithmLZ4
	case size < 64*1024:
		return AlgorithmGzip
	case size < 1024*1024:
		return AlgorithmZstd
	default:
		return AlgorithmLZ4
	}
}

func (c *Compressor) compressWithAlgorithm(data []byte, algorithm Algorithm) ([]byte, error) {
	switch algorithm {
	case AlgorithmGzip:
		return c.compressGzip(data)
	case AlgorithmZlib:
		return c.compressZlib(data)
	case AlgorithmZstd:
		return c.compressZstd(data)
	case AlgorithmLZ4:
		return c.compressLZ4(data)
	case AlgorithmSnappy:
		return snappy.Encode(nil, data), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}
}

func (c *Compressor) compressGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	pool := c.pools[AlgorithmGzip]
	writer := pool.gzipPool.Get().(*gzip.Writer)
	defer pool.gzipPool.Put(writer)

	writer.Reset(&buf)
	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Compressor) compressZlib(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	pool := c.pools[AlgorithmZlib]
	writer := pool.zlibPool.Get().(*zlib.Writer)
	defer pool.zlibPool.Put(writer)

	writer.Reset(&buf)
	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Compressor) compressZstd(data []byte) ([]byte, error) {
	pool := c.pools[AlgorithmZstd]
	encoder := pool.zstdPool.Get().(*zstd.Encoder)
	defer pool.zstdPool.Put(encoder)
	return encoder.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func (c *Compressor) compressLZ4(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	pool := c.pools[AlgorithmLZ4]
	writer := pool.lz4Pool.Get().(*lz4.Writer)
	defer pool.lz4Pool.Put(writer)

	writer.Reset(&buf)
	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress for the given algorithm.
func (c *Compressor) Decompress(data []byte, algorithm Algorithm) ([]byte, error) {
	switch algorithm {
	case AlgorithmGzip:
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer reader.Close()
		return io.ReadAll(reader)
	case AlgorithmZlib:
		reader, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer reader.Close()
		return io.ReadAll(reader)
	case AlgorithmZstd:
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer decoder.Close()
		return decoder.DecodeAll(data, nil)
	case AlgorithmLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	case AlgorithmSnappy:
		return snappy.Decode(nil, data)
	case AlgorithmNone, "":
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported decompression algorithm: %s", algorithm)
	}
}

// ContentEncoding returns the HTTP Content-Encoding token for algorithm.
func ContentEncoding(algorithm Algorithm) string {
	switch algorithm {
	case AlgorithmGzip:
		return "gzip"
	case AlgorithmZlib:
		return "deflate"
	case AlgorithmZstd:
		return "zstd"
	case AlgorithmLZ4:
		return "lz4"
	case AlgorithmSnappy:
		return "snappy"
	default:
		return ""
	}
}

// Info reports the compressor's configuration, the shape exposed via the
// control plane.
func (c *Compressor) Info() map[string]interface{} {
	algos := make(map[string]interface{})
	for algorithm, cfg := range c.config.Algorithms {
		algos[string(algorithm)] = map[string]interface{}{
			"enabled":  cfg.Enabled,
			"level":    cfg.Level,
			"min_size": cfg.MinSize,
		}
	}
	return map[string]interface{}{
		"default_algorithm": string(c.config.DefaultAlgorithm),
		"min_bytes":         c.config.MinBytes,
		"algorithms":        algos,
	}
}
