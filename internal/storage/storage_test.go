package storage

import (
	"testing"

	"github.com/signalsfoundry/dtn-simulator/model"
)

func bundle(id model.BundleID, dest model.NodeID, expires int64) *model.Bundle {
	return &model.Bundle{ID: id, Dest: dest, ExpiresAt: expires}
}

func TestStoreAndDrainFIFO(t *testing.T) {
	s := New()
	for i := 1; i <= 3; i++ {
		if s.Store(4, bundle(model.BundleID(i), 4, 100)) {
			t.Fatalf("bundle %d reported as duplicate", i)
		}
	}
	s.Store(2, bundle(9, 2, 100))

	var order []model.BundleID
	for b := s.NextBundleFor(4, nil); b != nil; b = s.NextBundleFor(4, b) {
		order = append(order, b.ID)
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("drain order = %v, want [1 2 3]", order)
	}
	if got := s.Destinations(); len(got) != 1 || got[0] != 2 {
		t.Fatalf("Destinations() = %v, want [2]", got)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
}

func TestNextBundleForWithoutAdvancing(t *testing.T) {
	s := New()
	s.Store(1, bundle(1, 1, 10))
	s.Store(1, bundle(2, 1, 10))

	first := s.NextBundleFor(1, nil)
	again := s.NextBundleFor(1, nil)
	if first.ID != 1 || again.ID != 1 {
		t.Fatalf("peeking should not consume: %v %v", first, again)
	}
	// A bundle that is not at the front does not advance the queue.
	if got := s.NextBundleFor(1, bundle(2, 1, 10)); got.ID != 1 {
		t.Fatalf("NextBundleFor with mismatched after = %v, want bundle 1", got)
	}
	if s.NextBundleFor(7, nil) != nil {
		t.Fatalf("unknown destination should yield nil")
	}
}

func TestStoreDeduplicatesByID(t *testing.T) {
	s := New()
	b := bundle(5, 3, 20)
	if s.Store(3, b) {
		t.Fatalf("first store reported duplicate")
	}
	if !s.Store(3, b.WithCopies(2)) {
		t.Fatalf("same ID should be a duplicate even with different metadata")
	}
	if s.Len() != 1 {
		t.Fatalf("duplicate should not be stored, Len() = %d", s.Len())
	}
}

func TestStoreAcceptsReturningBundle(t *testing.T) {
	s := New()
	b := bundle(5, 3, 20)
	s.Store(3, b)
	s.RemoveAllFor(3)
	if s.Contains(5) || !s.SeenBefore(5) {
		t.Fatalf("bundle should have left but stay remembered")
	}
	if s.Store(3, b) {
		t.Fatalf("a bundle that left storage should be accepted again")
	}
	if s.Len() != 1 || !s.Contains(5) {
		t.Fatalf("returning bundle not queued, have %v", s.All())
	}
}

func TestRemoveKeepsOrder(t *testing.T) {
	s := New()
	for i := 1; i <= 3; i++ {
		s.Store(2, bundle(model.BundleID(i), 2, 9))
	}
	if !s.Remove(2, 2) {
		t.Fatalf("Remove(2, 2) = false")
	}
	if s.Remove(2, 2) || s.Remove(7, 1) {
		t.Fatalf("removing an absent bundle should report false")
	}
	got := s.BundlesFor(2)
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 3 {
		t.Fatalf("BundlesFor(2) = %v, want [1 3]", got)
	}
	s.Remove(2, 1)
	s.Remove(2, 3)
	if len(s.Destinations()) != 0 {
		t.Fatalf("empty queue must be dropped, Destinations() = %v", s.Destinations())
	}
}

func TestRefreshEvictsExpired(t *testing.T) {
	s := New()
	s.Store(1, bundle(1, 1, 5))
	s.Store(1, bundle(2, 1, 6))
	s.Store(1, bundle(3, 1, 5))
	s.Store(2, bundle(4, 2, 5))

	if exp := s.Refresh(4); len(exp) != 0 {
		t.Fatalf("nothing should expire at 4, got %v", exp)
	}
	exp := s.Refresh(5)
	if len(exp) != 3 {
		t.Fatalf("expired %d bundles at 5, want 3 (adjacent expired entries must not be skipped)", len(exp))
	}
	if s.Len() != 1 || !s.Contains(2) {
		t.Fatalf("only bundle 2 should remain, have %v", s.All())
	}
	if got := s.Destinations(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("empty queues must be dropped, Destinations() = %v", got)
	}
	if s.SeenBefore(1) {
		t.Fatalf("seen record should be released at expiry")
	}
}

func TestAllGroupsByDestination(t *testing.T) {
	s := New()
	s.Store(3, bundle(1, 3, 9))
	s.Store(1, bundle(2, 1, 9))
	s.Store(3, bundle(3, 3, 9))

	all := s.All()
	want := []model.BundleID{2, 1, 3}
	for i, b := range all {
		if b.ID != want[i] {
			t.Fatalf("All() order = %v, want %v", all, want)
		}
	}
	if got := s.BundlesFor(3); len(got) != 2 {
		t.Fatalf("BundlesFor(3) = %v", got)
	}
}
