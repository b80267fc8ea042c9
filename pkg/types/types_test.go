package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnvelopeCloneIsIndependent(t *testing.T) {
	e := NewEnvelope()
	e.MessageID = "m1"
	e.Raw = []byte("hello")
	e.SetMetadata("k", "v")

	clone := e.Clone()
	clone.Raw[0] = 'H'
	clone.SetMetadata("k", "changed")

	assert.Equal(t, byte('h'), e.Raw[0])
	v, ok := e.GetMetadata("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestEnvelopeExpired(t *testing.T) {
	e := NewEnvelope()
	e.CreatedAt = time.Now().Add(-10 * time.Second)
	e.TTLSeconds = 5
	assert.True(t, e.Expired(time.Now()))

	e.TTLSeconds = 0
	assert.False(t, e.Expired(time.Now()))
}

func TestHeaderStatusIsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusError.IsTerminal())
	assert.True(t, StatusDiscarded.IsTerminal())
	assert.False(t, StatusCreated.IsTerminal())
	assert.False(t, StatusQueued.IsTerminal())
}

func TestMetadataCOWShareReadOnly(t *testing.T) {
	base := NewMetadataCOWFromMap(map[string]string{"a": "1"})
	shared := base.ShareReadOnly()

	shared.Set("a", "2")

	v, _ := base.Get("a")
	assert.Equal(t, "1", v)
	v2, _ := shared.Get("a")
	assert.Equal(t, "2", v2)
}
