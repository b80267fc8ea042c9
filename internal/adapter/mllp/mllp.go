// Package mllp implements the MLLP (Minimal Lower Layer Protocol) inbound
// and outbound adapters (spec §4.1, AdapterConfig.Kind == "mllp"), framing
// HL7 v2 payloads between the standard 0x0B/0x1C/0x0D envelope bytes the
// way every HL7 interface engine on the wire expects.
//
// Grounded on the teacher's connection-handling idiom in
// internal/docker/http_client.go (pooled, timeout-guarded net clients) and
// internal/monitors' worker-pool pattern for per-connection concurrency.
package mllp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hie-engine/runtime-core/pkg/types"
)

const (
	startBlock = 0x0B
	endBlock1  = 0x1C
	endBlock2  = 0x0D
)

// frame wraps raw bytes in the MLLP envelope.
func frame(raw []byte) []byte {
	out := make([]byte, 0, len(raw)+3)
	out = append(out, startBlock)
	out = append(out, raw...)
	out = append(out, endBlock1, endBlock2)
	return out
}

// readFrame reads one MLLP-framed message from r, blocking until a
// complete frame arrives, the connection closes or ctx is cancelled.
func readFrame(r *bufio.Reader) ([]byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if b != startBlock {
		return nil, fmt.Errorf("mllp: expected start block, got %#x", b)
	}

	var buf []byte
	for {
		chunk, err := r.ReadBytes(endBlock1)
		if err != nil {
			return nil, err
		}
		buf = append(buf, chunk[:len(chunk)-1]...)

		trailer, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if trailer == endBlock2 {
			return buf, nil
		}
		// endBlock1 appeared mid-payload; keep accumulating.
		buf = append(buf, endBlock1, trailer)
	}
}

// Config configures an MLLP adapter from the adapter.* settings sub-tree.
type Config struct {
	Port            int
	IPAddress       string
	StayConnected   int
	ReadTimeout     time.Duration
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
	ReconnectRetry  int
	LocalInterface  string
}

// FromAdapterConfig builds Config from the generic AdapterConfig sub-tree.
func FromAdapterConfig(cfg types.AdapterConfig) Config {
	return Config{
		Port:            cfg.Port,
		IPAddress:       cfg.IPAddress,
		StayConnected:   cfg.StayConnected,
		ReadTimeout:     cfg.ReadTimeout,
		ConnectTimeout:  cfg.ConnectTimeout,
		ResponseTimeout: cfg.ResponseTimeout,
		ReconnectRetry:  cfg.ReconnectRetry,
		LocalInterface:  cfg.LocalInterface,
	}
}

// Inbound listens on a TCP port and hands each framed payload to onFrame,
// one goroutine per open connection (spec §4.4.1 Inbound Service driver).
type Inbound struct {
	cfg    Config
	logger *logrus.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	onFrame  types.OnFrameFunc
}

// NewInbound builds an MLLP listener from cfg.
func NewInbound(cfg Config, logger *logrus.Logger) *Inbound {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Inbound{cfg: cfg, logger: logger}
}

func (in *Inbound) Start(ctx context.Context, onFrame types.OnFrameFunc) error {
	addr := fmt.Sprintf("%s:%d", in.cfg.IPAddress, in.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("mllp: listen %s: %w", addr, err)
	}

	in.mu.Lock()
	in.listener = ln
	in.onFrame = onFrame
	in.mu.Unlock()

	in.logger.WithFields(logrus.Fields{"component": "mllp_inbound", "addr": addr}).Info("listening for MLLP connections")

	in.wg.Add(1)
	go in.acceptLoop(ctx, ln)
	return nil
}

func (in *Inbound) acceptLoop(ctx context.Context, ln net.Listener) {
	defer in.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			in.logger.WithError(err).Warn("mllp: accept failed")
			continue
		}

		in.wg.Add(1)
		go in.handleConn(ctx, conn)
	}
}

func (in *Inbound) handleConn(ctx context.Context, conn net.Conn) {
	defer in.wg.Done()
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	reader := bufio.NewReader(conn)

	for {
		if in.cfg.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(in.cfg.ReadTimeout))
		}

		raw, err := readFrame(reader)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				in.logger.WithError(err).WithField("remote", remote).Debug("mllp: connection closed")
			}
			return
		}

		reply, err := in.onFrame(ctx, raw, types.FrameMeta{RemoteAddr: remote})
		if err != nil {
			in.logger.WithError(err).WithField("remote", remote).Warn("mllp: frame handler error")
			continue
		}
		if reply == nil {
			continue
		}

		if in.cfg.ResponseTimeout > 0 {
			conn.SetWriteDeadline(time.Now().Add(in.cfg.ResponseTimeout))
		}
		if _, err := conn.Write(frame(reply)); err != nil {
			in.logger.WithError(err).WithField("remote", remote).Warn("mllp: write ack failed")
			return
		}

		if in.cfg.StayConnected == 0 {
			return
		}
	}
}

func (in *Inbound) Stop(ctx context.Context) error {
	in.mu.Lock()
	ln := in.listener
	in.mu.Unlock()

	if ln != nil {
		ln.Close()
	}

	done := make(chan struct{})
	go func() {
		in.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outbound dials a remote MLLP listener on demand, reconnecting per the
// configured retry policy (spec §4.4.3 Outbound Operation driver).
type Outbound struct {
	cfg    Config
	logger *logrus.Logger

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// NewOutbound builds an MLLP client from cfg.
func NewOutbound(cfg Config, logger *logrus.Logger) *Outbound {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Outbound{cfg: cfg, logger: logger}
}

func (out *Outbound) Connect(ctx context.Context) error {
	out.mu.Lock()
	defer out.mu.Unlock()

	if out.conn != nil {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", out.cfg.IPAddress, out.cfg.Port)
	timeout := out.cfg.ConnectTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	var lastErr error
	attempts := out.cfg.ReconnectRetry
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			out.conn = conn
			out.reader = bufio.NewReader(conn)
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("mllp: dial %s: %w", addr, lastErr)
}

func (out *Outbound) Disconnect(ctx context.Context) error {
	out.mu.Lock()
	defer out.mu.Unlock()

	if out.conn == nil {
		return nil
	}
	err := out.conn.Close()
	out.conn = nil
	out.reader = nil
	return err
}

func (out *Outbound) Send(ctx context.Context, raw []byte) ([]byte, error) {
	out.mu.Lock()
	defer out.mu.Unlock()

	if out.conn == nil {
		return nil, errors.New("mllp: not connected")
	}

	if out.cfg.ResponseTimeout > 0 {
		out.conn.SetWriteDeadline(time.Now().Add(out.cfg.ResponseTimeout))
	}
	if _, err := out.conn.Write(frame(raw)); err != nil {
		out.conn.Close()
		out.conn = nil
		return nil, fmt.Errorf("mllp: write: %w", err)
	}

	if out.cfg.ResponseTimeout > 0 {
		out.conn.SetReadDeadline(time.Now().Add(out.cfg.ResponseTimeout))
	}
	resp, err := readFrame(out.reader)
	if err != nil {
		out.conn.Close()
		out.conn = nil
		return nil, fmt.Errorf("mllp: read response: %w", err)
	}

	if out.cfg.StayConnected == 0 {
		out.conn.Close()
		out.conn = nil
	}

	return resp, nil
}
