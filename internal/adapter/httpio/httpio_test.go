package httpio

import (
	"compress/gzip"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hie-engine/runtime-core/pkg/types"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestInboundServesPostedBody(t *testing.T) {
	port := freePort(t)
	cfg := Config{BasePath: "/ingest", AllowedMethods: []string{"POST"}}

	in := NewInbound(cfg, port, nil)
	var got []byte
	require.NoError(t, in.Start(context.Background(), func(ctx context.Context, raw []byte, meta types.FrameMeta) ([]byte, error) {
		got = raw
		return []byte("ok"), nil
	}))
	defer in.Stop(context.Background())

	time.Sleep(50 * time.Millisecond)

	resp, err := http.Post("http://127.0.0.1:"+strconv.Itoa(port)+"/ingest", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, "hello", string(got))
}

func TestOutboundSendCompressesBodyWhenConfigured(t *testing.T) {
	var gotEncoding string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEncoding = r.Header.Get("Content-Encoding")
		reader, err := gzip.NewReader(r.Body)
		require.NoError(t, err)
		gotBody, _ = io.ReadAll(reader)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	out := NewOutbound(Config{URL: server.URL, Compress: true}, nil)
	_, err := out.Send(context.Background(), []byte("payload to compress"))
	require.NoError(t, err)

	assert.Equal(t, "gzip", gotEncoding)
	assert.Equal(t, "payload to compress", string(gotBody))
}
