package queue

import (
	"testing"

	"github.com/ghalamif/TensileFlow/internal/domain"
)

func TestMemQueueKeepsArrivalOrderAcrossWrap(t *testing.T) {
	q := NewMemQueue(3)
	disp := &domain.Sample{Channel: "disp"}
	force := &domain.Sample{Channel: "force"}

	q.Enqueue(1, disp)
	q.Enqueue(2, force)
	if batch := q.DequeueBatch(1); len(batch) != 1 || batch[0].ID != 1 {
		t.Fatalf("unexpected first batch: %+v", batch)
	}
	q.Enqueue(3, disp)
	q.Enqueue(4, force)

	batch := q.DequeueBatch(0)
	if len(batch) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(batch))
	}
	for i, want := range []uint64{2, 3, 4} {
		if uint64(batch[i].ID) != want {
			t.Fatalf("position %d: expected id %d, got %d", i, want, batch[i].ID)
		}
	}
	if batch[0].Sample.Channel != "force" {
		t.Fatalf("expected force sample first, got %q", batch[0].Sample.Channel)
	}
	if q.Len() != 0 {
		t.Fatalf("queue should be empty, got %d", q.Len())
	}
}

func TestMemQueueRejectsWhenFull(t *testing.T) {
	q := NewMemQueue(2)
	s := &domain.Sample{Channel: "disp"}

	if !q.Enqueue(1, s) || !q.Enqueue(2, s) {
		t.Fatalf("expected enqueue within capacity")
	}
	if q.Enqueue(3, s) {
		t.Fatalf("enqueue should fail when capacity exceeded")
	}
	q.DequeueBatch(1)
	if !q.Enqueue(4, s) {
		t.Fatalf("expected enqueue to succeed after dequeue")
	}
}

func TestMemQueueSignalsReady(t *testing.T) {
	q := NewMemQueue(4)
	select {
	case <-q.Ready():
		t.Fatalf("empty queue must not be ready")
	default:
	}
	q.Enqueue(1, &domain.Sample{Channel: "force"})
	q.Enqueue(2, &domain.Sample{Channel: "force"})
	select {
	case <-q.Ready():
	default:
		t.Fatalf("expected ready signal after enqueue")
	}
}
