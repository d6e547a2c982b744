package delta

import "testing"

func TestHubBroadcastNoSubscribers(t *testing.T) {
	h := NewHub()
	n := h.Broadcast(BucketDelta{BlockNumber: 1})
	if n != 0 {
		t.Fatalf("delivered = %d, want 0", n)
	}
}

func TestHubSubscribeAndBroadcast(t *testing.T) {
	h := NewHub()
	s := h.subscribe()
	defer h.unsubscribe(s)

	if h.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", h.SubscriberCount())
	}

	n := h.Broadcast(BucketDelta{BlockNumber: 42, Updates: []Update{{BucketID: 1, NewValue: [32]byte{9}}}})
	if n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}

	got := <-s.ch
	if got.BlockNumber != 42 {
		t.Fatalf("BlockNumber = %d, want 42", got.BlockNumber)
	}
}

func TestHubEvictsLaggedSubscriber(t *testing.T) {
	h := NewHub()
	s := h.subscribe()

	for i := 0; i < subscriberBufferSize+1; i++ {
		h.Broadcast(BucketDelta{BlockNumber: uint64(i)})
	}

	if h.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount = %d, want 0 after lag eviction", h.SubscriberCount())
	}
	// The closed channel still yields the deltas buffered before eviction.
	for i := 0; i < subscriberBufferSize; i++ {
		<-s.ch
	}
	if _, ok := <-s.ch; ok {
		t.Fatal("expected subscriber channel to be closed after eviction")
	}
}

func TestItoa(t *testing.T) {
	cases := map[uint64]string{0: "0", 7: "7", 12345: "12345"}
	for v, want := range cases {
		if got := itoa(v); got != want {
			t.Fatalf("itoa(%d) = %q, want %q", v, got, want)
		}
	}
}
