package notifybus_test

import (
	"testing"
	"time"

	"github.com/cuemby/nimbus/pkg/notifybus"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversOnlyToMatchingRequest(t *testing.T) {
	bus := notifybus.New()
	ch := bus.Subscribe("req-1")
	defer bus.Unsubscribe("req-1")

	bus.Publish(&notifybus.Frame{RequestID: "req-2", Type: notifybus.FrameNotify})
	select {
	case <-ch:
		t.Fatal("received frame addressed to a different request")
	case <-time.After(20 * time.Millisecond):
	}

	bus.Publish(&notifybus.Frame{RequestID: "req-1", Type: notifybus.FrameNotify})
	select {
	case f := <-ch:
		require.Equal(t, notifybus.FrameNotify, f.Type)
	case <-time.After(time.Second):
		t.Fatal("did not receive frame for subscribed request")
	}
}

func TestPublishWithNoSubscriberIsDropped(t *testing.T) {
	bus := notifybus.New()
	bus.Publish(&notifybus.Frame{RequestID: "unknown", Type: notifybus.FrameNotify})
	require.Equal(t, 0, bus.SubscriberCount())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := notifybus.New()
	ch := bus.Subscribe("req-1")
	bus.Unsubscribe("req-1")
	_, open := <-ch
	require.False(t, open)
}
