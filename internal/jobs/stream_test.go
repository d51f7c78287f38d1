package jobs

import (
	"testing"
	"time"

	"github.com/bardlex/cnpool/internal/daemon"
)

func streamTemplate(height uint64) *daemon.BlockTemplate {
	return &daemon.BlockTemplate{
		Height:   height,
		PrevHash: "prev",
	}
}

func TestStreamDeliversCurrentToNewSubscriber(t *testing.T) {
	s := NewStream()
	s.Publish(streamTemplate(10))

	ch, cancel := s.Subscribe()
	defer cancel()

	select {
	case got := <-ch:
		if got.Height != 10 {
			t.Errorf("height = %d, want 10", got.Height)
		}
	default:
		t.Fatal("new subscriber did not receive the current template")
	}
}

func TestStreamOverwritesLatestForSlowSubscriber(t *testing.T) {
	s := NewStream()

	ch, cancel := s.Subscribe()
	defer cancel()

	s.Publish(streamTemplate(1))
	s.Publish(streamTemplate(2))
	s.Publish(streamTemplate(3))

	select {
	case got := <-ch:
		if got.Height != 3 {
			t.Errorf("height = %d, want newest 3", got.Height)
		}
	default:
		t.Fatal("subscriber received nothing")
	}

	// Only the newest value is buffered
	select {
	case extra := <-ch:
		t.Errorf("unexpected extra template height %d", extra.Height)
	default:
	}
}

func TestStreamSubscribeBeforeFirstPublish(t *testing.T) {
	s := NewStream()

	ch, cancel := s.Subscribe()
	defer cancel()

	select {
	case <-ch:
		t.Fatal("received template before any publish")
	default:
	}

	s.Publish(streamTemplate(7))

	select {
	case got := <-ch:
		if got.Height != 7 {
			t.Errorf("height = %d, want 7", got.Height)
		}
	case <-time.After(time.Second):
		t.Fatal("publish did not reach subscriber")
	}
}

func TestStreamCancelClosesChannel(t *testing.T) {
	s := NewStream()

	ch, cancel := s.Subscribe()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}

	// Publishing after cancel must not panic
	s.Publish(streamTemplate(1))

	// Double cancel is a no-op
	cancel()
}

func TestStreamCurrent(t *testing.T) {
	s := NewStream()

	if s.Current() != nil {
		t.Error("Current() non-nil before first publish")
	}

	s.Publish(streamTemplate(5))
	if got := s.Current(); got == nil || got.Height != 5 {
		t.Errorf("Current() = %v, want height 5", got)
	}
}
