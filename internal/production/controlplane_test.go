package production

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hie-engine/runtime-core/pkg/types"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestControlPlaneStatusAndPauseRoutes(t *testing.T) {
	e := testEngine()
	item := fileItem(t, "writer", 1)
	item.Enabled = true
	require.NoError(t, e.Deploy(context.Background(), &types.ProductionConfig{Items: []types.ItemConfig{item}}))
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop(context.Background())

	addr := freeAddr(t)
	cp := NewControlPlane(e, addr, nil, nil)
	cp.Start()
	defer cp.Stop(context.Background())

	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://%s/status", addr))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, time.Second, 10*time.Millisecond)

	resp, err := http.Post(fmt.Sprintf("http://%s/hosts/writer/pause", addr), "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Post(fmt.Sprintf("http://%s/hosts/ghost/pause", addr), "", nil)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)

	resp3, err := http.Get(fmt.Sprintf("http://%s/tasks", addr))
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusOK, resp3.StatusCode)

	resp4, err := http.Get(fmt.Sprintf("http://%s/resources", addr))
	require.NoError(t, err)
	defer resp4.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp4.StatusCode)

	resp5, err := http.Get(fmt.Sprintf("http://%s/disk", addr))
	require.NoError(t, err)
	defer resp5.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp5.StatusCode)
}
