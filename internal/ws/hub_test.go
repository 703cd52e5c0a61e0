package ws

import (
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bevsync/internal/pipeline"
)

// addClient inserts a client with no connection or writer, so the test
// controls its queue directly.
func addClient(h *Hub, queue int) *Client {
	c := &Client{ID: uuid.New(), send: make(chan []byte, queue)}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	return c
}

func TestBroadcastDropsOnlyFullClient(t *testing.T) {
	t.Parallel()
	h := NewHub("test", zerolog.Nop())
	stuck := addClient(h, 0)
	healthy := addClient(h, 4)
	other := addClient(h, 4)

	h.Broadcast([]byte("one"))

	assert.Equal(t, 2, h.ClientCount())
	assert.Equal(t, []byte("one"), <-healthy.send)
	assert.Equal(t, []byte("one"), <-other.send)

	_, open := <-stuck.send
	assert.False(t, open, "dropped client's queue is closed")

	h.Broadcast([]byte("two"))
	assert.Equal(t, []byte("two"), <-healthy.send)
	assert.Equal(t, []byte("two"), <-other.send)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	t.Parallel()
	h := NewHub("test", zerolog.Nop())
	c := addClient(h, 1)

	h.Unregister(c)
	assert.NotPanics(t, func() { h.Unregister(c) })
	assert.Equal(t, 0, h.ClientCount())
}

func TestOnEventBroadcastsMessageJSON(t *testing.T) {
	t.Parallel()
	h := NewHub("test", zerolog.Nop())
	c := addClient(h, 1)

	h.OnEvent(&pipeline.Event{
		Type:    pipeline.EventDetectedData,
		Message: &pipeline.DetectedDataMessage{Type: pipeline.EventDetectedData},
	})

	require.Len(t, c.send, 1)
	assert.JSONEq(t, `{"type":"detected_data","data":null}`, string(<-c.send))
}

func TestCloseDropsAllClients(t *testing.T) {
	t.Parallel()
	h := NewHub("test", zerolog.Nop())
	addClient(h, 1)
	addClient(h, 1)

	h.Close()
	assert.Equal(t, 0, h.ClientCount())
}

func TestNormalizeGID(t *testing.T) {
	t.Parallel()
	ptr := func(v int) *int { return &v }

	tests := []struct {
		name string
		in   any
		want *int
	}{
		{"nil", nil, nil},
		{"empty string", "", nil},
		{"null string", "null", nil},
		{"numeric string", "12", ptr(12)},
		{"padded string", " 7 ", ptr(7)},
		{"negative string", "-3", ptr(-3)},
		{"word", "abc", nil},
		{"decimal string", "1.5", nil},
		{"number", 12.0, ptr(12)},
		{"fractional number", 4.9, ptr(4)},
		{"bool", true, nil},
		{"object", map[string]any{"gid": 1}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NormalizeGID(tt.in))
		})
	}
}
