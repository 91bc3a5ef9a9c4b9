package mqtthub

import (
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/pulsegrid/fusion/internal/drivers"
)

type nopClient struct{ mqtt.Client }

func (nopClient) Disconnect(uint) {}

// Paho can still invoke the message handler while Disconnect drains
// in-flight messages, so Close must never close the frames channel out
// from under it.
func TestSessionCloseLeavesFramesOpen(t *testing.T) {
	s := &session{
		client: nopClient{},
		frames: make(chan drivers.Frame, 1),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-s.done:
	default:
		t.Fatal("done not closed")
	}

	// A late handler delivery must not panic on a closed channel.
	s.frames <- drivers.Frame{Topic: "t"}
	if _, ok := <-s.frames; !ok {
		t.Fatal("frames channel was closed")
	}

	// Close is idempotent.
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
