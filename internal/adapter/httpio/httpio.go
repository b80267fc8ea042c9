// Package httpio implements the HTTP inbound and outbound adapters (spec
// §4.1, AdapterConfig.Kind == "http"), following the teacher's gorilla/mux
// server idiom (internal/app/handlers.go registerHandlers) for the inbound
// side and the teacher's pooled http.Client (internal/docker/http_client.go)
// for the outbound side.
package httpio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/hie-engine/runtime-core/pkg/compression"
	"github.com/hie-engine/runtime-core/pkg/security"
	"github.com/hie-engine/runtime-core/pkg/types"
)

// Config configures an HTTP adapter from the adapter.* settings sub-tree.
type Config struct {
	BasePath       string
	AllowedMethods []string
	MaxBodySize    int64
	EnableCORS     bool
	URL            string
	Method         string
	ContentType       string
	CustomHeaders     map[string]string
	Compress          bool
	CompressAlgorithm string
}

// FromAdapterConfig builds Config from the generic AdapterConfig sub-tree.
func FromAdapterConfig(cfg types.AdapterConfig) Config {
	return Config{
		BasePath:          cfg.BasePath,
		AllowedMethods:    cfg.AllowedMethods,
		MaxBodySize:       cfg.MaxBodySize,
		EnableCORS:        cfg.EnableCORS,
		URL:               cfg.URL,
		Method:            cfg.Method,
		ContentType:       cfg.ContentType,
		CustomHeaders:     cfg.CustomHeaders,
		Compress:          cfg.Compress,
		CompressAlgorithm: cfg.CompressAlgorithm,
	}
}

// Inbound exposes a single HTTP endpoint that feeds every received request
// body to onFrame, replying with whatever bytes the handler returns.
type Inbound struct {
	cfg    Config
	logger *logrus.Logger

	mu      sync.Mutex
	server  *http.Server
	onFrame types.OnFrameFunc
}

// NewInbound builds an HTTP receiver from cfg. port is the listen port;
// the teacher's production engine resolves it from AdapterConfig.Port.
func NewInbound(cfg Config, port int, logger *logrus.Logger) *Inbound {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	path := cfg.BasePath
	if path == "" {
		path = "/"
	}

	methods := cfg.AllowedMethods
	if len(methods) == 0 {
		methods = []string{"POST"}
	}

	in := &Inbound{cfg: cfg, logger: logger}
	router := mux.NewRouter()

	router.Handle(path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		in.serve(w, r)
	})).Methods(methods...)

	in.server = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: router}
	return in
}

func (in *Inbound) serve(w http.ResponseWriter, r *http.Request) {
	in.mu.Lock()
	onFrame := in.onFrame
	in.mu.Unlock()

	if onFrame == nil {
		http.Error(w, "adapter not started", http.StatusServiceUnavailable)
		return
	}

	if in.cfg.EnableCORS {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}

	body := io.Reader(r.Body)
	if in.cfg.MaxBodySize > 0 {
		body = io.LimitReader(r.Body, in.cfg.MaxBodySize)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read request body: %v", err), http.StatusBadRequest)
		return
	}

	reply, err := onFrame(r.Context(), raw, types.FrameMeta{RemoteAddr: r.RemoteAddr})
	if err != nil {
		in.logger.WithError(err).Warn("httpio: frame handler error")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	if reply != nil {
		w.Write(reply)
	}
}

func (in *Inbound) Start(ctx context.Context, onFrame types.OnFrameFunc) error {
	in.mu.Lock()
	in.onFrame = onFrame
	server := in.server
	in.mu.Unlock()

	in.logger.WithFields(logrus.Fields{"component": "http_inbound", "addr": server.Addr}).Info("listening for HTTP requests")

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			in.logger.WithError(err).Error("httpio: server exited")
		}
	}()
	return nil
}

func (in *Inbound) Stop(ctx context.Context) error {
	in.mu.Lock()
	server := in.server
	in.mu.Unlock()
	return server.Shutdown(ctx)
}

// Outbound posts every outgoing envelope body to a configured URL, using a
// pooled http.Client the way the teacher's Docker HTTP client is built.
type Outbound struct {
	cfg        Config
	client     *http.Client
	logger     *logrus.Logger
	compressor *compression.Compressor
}

// NewOutbound builds an HTTP sender from cfg.
func NewOutbound(cfg Config, logger *logrus.Logger) *Outbound {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.WithField("url", security.SanitizeURL(cfg.URL)).Info("httpio: outbound target configured")

	var compressor *compression.Compressor
	if cfg.Compress {
		algo := compression.Algorithm(cfg.CompressAlgorithm)
		if algo == "" {
			algo = compression.AlgorithmGzip
		}
		// MinBytes: 1 rather than 0 — NewCompressor treats an unset
		// MinBytes as "apply its own 1KB default", but an adapter that
		// opted into Compress wants every outbound body compressed.
		compressor = compression.NewCompressor(compression.Config{DefaultAlgorithm: algo, MinBytes: 1}, logger)
	}

	return &Outbound{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger:     logger,
		compressor: compressor,
	}
}

func (out *Outbound) Connect(ctx context.Context) error    { return nil }
func (out *Outbound) Disconnect(ctx context.Context) error { return nil }

func (out *Outbound) Send(ctx context.Context, raw []byte) ([]byte, error) {
	method := out.cfg.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader = bytes.NewReader(raw)
	var contentEncoding string
	if out.compressor != nil {
		result, err := out.compressor.Compress(raw, "")
		if err != nil {
			return nil, fmt.Errorf("httpio: compress: %w", err)
		}
		body = bytes.NewReader(result.Data)
		contentEncoding = result.Encoding
	}

	req, err := http.NewRequestWithContext(ctx, method, out.cfg.URL, body)
	if err != nil {
		return nil, fmt.Errorf("httpio: build request: %w", err)
	}

	contentType := out.cfg.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	if contentEncoding != "" {
		req.Header.Set("Content-Encoding", contentEncoding)
	}
	for k, v := range out.cfg.CustomHeaders {
		req.Header.Set(k, v)
	}

	resp, err := out.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpio: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpio: read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return respBody, fmt.Errorf("httpio: server error %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return respBody, fmt.Errorf("httpio: client error %d: %w", resp.StatusCode, errPermanent(strings.TrimSpace(resp.Status)))
	}

	return respBody, nil
}

type errPermanent string

func (e errPermanent) Error() string { return string(e) }
