package events

import (
	"bytes"
	"testing"
	"time"
)

func TestEchoPublisher(t *testing.T) {
	var buf bytes.Buffer
	inner := NewMemoryPublisher()
	pub := NewEchoPublisher(&buf, inner)
	defer pub.Close()

	ch := pub.Subscribe("task/T-1")

	pub.Publish(NewEvent(EventEntityCreated, "task/T-1", EntityChange{Kind: "task", ID: "T-1"}))
	pub.Publish(NewEvent(EventPhaseChanged, "task/T-1", PhaseChange{
		Kind: "task", ID: "T-1", Phase: "research", From: "not_started", To: "in_progress",
	}))

	want := "task/T-1 entity_created\ntask/T-1 research: not_started → in_progress\n"
	if got := buf.String(); got != want {
		t.Errorf("echo output = %q, want %q", got, want)
	}

	for i := range 2 {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("event %d not forwarded to inner publisher", i)
		}
	}
}

func TestEchoPublisher_NoInner(t *testing.T) {
	var buf bytes.Buffer
	pub := NewEchoPublisher(&buf, nil)

	ch := pub.Subscribe(GlobalKey)
	if _, ok := <-ch; ok {
		t.Error("expected closed channel without an inner publisher")
	}

	pub.Publish(NewEvent(EventEntityDeleted, "sprint/S-1", EntityChange{Kind: "sprint", ID: "S-1"}))
	if got := buf.String(); got != "sprint/S-1 entity_deleted\n" {
		t.Errorf("echo output = %q", got)
	}
	pub.Close()
}
