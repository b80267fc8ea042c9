package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hie-engine/runtime-core/pkg/types"
)

func TestStoreBodyWithoutDedupAssignsIDAndChecksum(t *testing.T) {
	store := New(nil, nil)

	body := &types.MessageBody{BodyClassName: "HL7v2", RawContent: []byte("MSH|...")}
	id, err := store.StoreBody(body)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, body.ID)
	assert.NotEmpty(t, body.Checksum)
	assert.Equal(t, len(body.RawContent), body.ContentSize)

	got, ok := store.GetBody(id)
	require.True(t, ok)
	assert.Equal(t, body.BodyClassName, got.BodyClassName)
}

func TestStoreBodyRejectsNil(t *testing.T) {
	store := New(nil, nil)
	_, err := store.StoreBody(nil)
	assert.Error(t, err)
}

func TestStoreHeaderAssignsMonotonicSequence(t *testing.T) {
	store := New(nil, nil)

	h1 := &types.MessageHeader{SessionID: "SES-1"}
	h2 := &types.MessageHeader{SessionID: "SES-1"}

	id1, err := store.StoreHeader(h1)
	require.NoError(t, err)
	id2, err := store.StoreHeader(h2)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Less(t, h1.SequenceNum, h2.SequenceNum)
	assert.Equal(t, types.StatusCreated, h1.Status)

	trace, err := store.TraceForSession("SES-1")
	require.NoError(t, err)
	require.Len(t, trace, 2)
	assert.Equal(t, id1, trace[0].ID)
	assert.Equal(t, id2, trace[1].ID)
}

func TestUpdateHeaderStatusRejectsTransitionAfterTerminal(t *testing.T) {
	store := New(nil, nil)

	h := &types.MessageHeader{SessionID: "SES-1"}
	id, err := store.StoreHeader(h)
	require.NoError(t, err)

	require.NoError(t, store.UpdateHeaderStatus(id, types.StatusCompleted, false, ""))

	got, ok := store.GetHeader(id)
	require.True(t, ok)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.NotNil(t, got.TimeProcessed)

	err = store.UpdateHeaderStatus(id, types.StatusError, true, "late")
	assert.Error(t, err)
}

func TestUpdateHeaderStatusUnknownHeaderErrors(t *testing.T) {
	store := New(nil, nil)
	err := store.UpdateHeaderStatus("missing", types.StatusCompleted, false, "")
	assert.Error(t, err)
}

func TestGetHeaderReturnsIndependentCopy(t *testing.T) {
	store := New(nil, nil)
	h := &types.MessageHeader{SessionID: "SES-1"}
	id, err := store.StoreHeader(h)
	require.NoError(t, err)

	got, ok := store.GetHeader(id)
	require.True(t, ok)
	got.Status = types.StatusError

	again, ok := store.GetHeader(id)
	require.True(t, ok)
	assert.Equal(t, types.StatusCreated, again.Status)
}
