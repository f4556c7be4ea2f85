package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aulachat/aulachat/internal/chat"
)

func TestHubFanOut(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer h.Stop()

	c := &client{send: make(chan chat.Event, 4)}
	require.True(t, h.Register(c))

	h.Publish(chat.Event{Kind: chat.EventMessage, Room: "General"})

	select {
	case event := <-c.send:
		assert.Equal(t, chat.EventMessage, event.Kind)
		assert.Equal(t, "General", event.Room)
	case <-time.After(time.Second):
		t.Fatal("event never reached the client")
	}
}

func TestHubStopUnblocksRegistration(t *testing.T) {
	h := NewHub()
	done := make(chan struct{})
	go func() {
		h.Run()
		close(done)
	}()

	c := &client{send: make(chan chat.Event, 1)}
	require.True(t, h.Register(c))
	assert.Equal(t, 1, h.ClientCount())

	h.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub loop did not stop")
	}

	// With the loop gone nothing drains the channels, so both calls must
	// return instead of hanging their goroutine.
	finished := make(chan struct{})
	go func() {
		h.Unregister(c)
		assert.False(t, h.Register(&client{send: make(chan chat.Event, 1)}))
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("register/unregister blocked after stop")
	}
	assert.Equal(t, 0, h.ClientCount())
}
