package core

import (
	"testing"

	"github.com/signalsfoundry/dtn-simulator/model"
)

func TestAnalyzeContactPlan(t *testing.T) {
	contacts := []model.Contact{
		{ID: 0, Source: 0, Dest: 1, Start: 0, End: 10, Rate: 1},
		{ID: 1, Source: 1, Dest: 0, Start: 0, End: 10, Rate: 1},
		{ID: 2, Source: 1, Dest: 2, Start: 20, End: 40, Rate: 1},
		{ID: 3, Source: 2, Dest: 3, Start: 0, End: model.Forever, Rate: 1},
	}

	stats, err := AnalyzeContactPlan(contacts)
	if err != nil {
		t.Fatalf("AnalyzeContactPlan: %v", err)
	}
	if stats.NumContacts != 4 || stats.OpenEnded != 1 {
		t.Fatalf("counts = %d/%d, want 4/1", stats.NumContacts, stats.OpenEnded)
	}
	if stats.TotalContactTime != 40 {
		t.Fatalf("TotalContactTime = %d, want 40", stats.TotalContactTime)
	}
	if stats.AvgContactTime < 13.33 || stats.AvgContactTime > 13.34 {
		t.Fatalf("AvgContactTime = %f, want 40/3", stats.AvgContactTime)
	}
	if stats.UniquePartners != 3 {
		t.Fatalf("UniquePartners = %d, want 3", stats.UniquePartners)
	}
	if len(stats.Nodes) != 4 || stats.Nodes[0] != 0 || stats.Nodes[3] != 3 {
		t.Fatalf("Nodes = %v", stats.Nodes)
	}

	if h, ok := stats.Reachable(0, 3); !ok || h != 3 {
		t.Fatalf("hops 0->3 = %d,%v want 3,true", h, ok)
	}
	if _, ok := stats.Reachable(3, 0); ok {
		t.Fatalf("3 has no outbound contacts; 3->0 should be unreachable")
	}
}
