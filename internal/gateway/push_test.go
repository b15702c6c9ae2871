package gateway

import "testing"

func TestBroadcasterReplaysHistoryToNewSubscriber(t *testing.T) {
	b := NewBroadcaster()
	b.Send(Frame{Type: "update-started"})
	b.Send(Frame{Type: "update-completed"})

	ch, _, unsub := b.Subscribe()
	defer unsub()

	first := <-ch
	second := <-ch
	if first.Type != "update-started" || second.Type != "update-completed" {
		t.Errorf("expected history replay in order, got %v then %v", first.Type, second.Type)
	}
}

func TestBroadcasterDropsSlowClientWithoutBlocking(t *testing.T) {
	b := NewBroadcaster()
	ch, _, unsub := b.Subscribe()
	defer func() { recover() }()
	defer unsub()

	for i := 0; i < 64; i++ {
		b.Send(Frame{Type: "update-progress"})
	}

	// The subscriber's buffer holds 32 frames; the 33rd Send closes and
	// drops it, so draining ends after exactly the buffered frames.
	received := 0
	for range ch {
		received++
	}
	if received != 32 {
		t.Errorf("expected 32 buffered frames before the drop, got %d", received)
	}
}

func TestBroadcasterCloseClosesDoneChannel(t *testing.T) {
	b := NewBroadcaster()
	_, doneCh, unsub := b.Subscribe()
	defer unsub()

	b.Close()

	select {
	case <-doneCh:
	default:
		t.Fatal("expected doneCh to be closed")
	}
}
