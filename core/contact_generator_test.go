package core

import (
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/dtn-simulator/model"
)

func TestGenerateContactsISSOverEquatorialSite(t *testing.T) {
	cfg := GeneratorConfig{
		Epoch:        time.Date(2021, 10, 2, 0, 0, 0, 0, time.UTC),
		TickDuration: time.Minute,
		Ticks:        24 * 60,
		Rate:         1000,
	}
	orbiters := []Orbiter{{ID: 1, TLE1: issTLE1, TLE2: issTLE2}}
	sites := []GroundSite{
		{ID: 10, LatDeg: 0, LonDeg: 0},
		{ID: 11, LatDeg: 0, LonDeg: 90},
	}

	contacts, err := GenerateContacts(cfg, orbiters, sites)
	if err != nil {
		t.Fatalf("GenerateContacts: %v", err)
	}
	if len(contacts) == 0 {
		t.Fatalf("expected at least one pass in 24h")
	}
	if len(contacts)%2 != 0 {
		t.Fatalf("contacts should come in directed pairs, got %d", len(contacts))
	}

	for i, c := range contacts {
		if c.ID != model.ContactID(i) {
			t.Fatalf("contact %d has id %d, want sequential numbering", i, c.ID)
		}
		if c.Start >= c.End || c.End > cfg.Ticks {
			t.Fatalf("bad window on %v", c)
		}
		if c.Between(10, 11) {
			t.Fatalf("ground sites must not contact each other: %v", c)
		}
		if c.OWLT < 1 {
			t.Fatalf("OWLT should round up to at least one tick: %v", c)
		}
		if c.Confidence != 1 || c.Rate != 1000 {
			t.Fatalf("unexpected rate/confidence on %v", c)
		}
	}

	report := Verify(PlanFromContacts(contacts))
	if err := report.Err(); err != nil {
		t.Fatalf("generated plan does not verify: %v", err)
	}
}

func TestGenerateContactsValidatesConfig(t *testing.T) {
	_, err := GenerateContacts(GeneratorConfig{}, nil, nil)
	if err == nil {
		t.Fatalf("expected config error")
	}

	cfg := GeneratorConfig{TickDuration: time.Second, Ticks: 10, Rate: 1}
	_, err = GenerateContacts(cfg, []Orbiter{{ID: 1, TLE1: "bad", TLE2: "bad"}}, nil)
	if !errors.Is(err, ErrInvalidTLE) {
		t.Fatalf("error = %v, want ErrInvalidTLE", err)
	}

	_, err = GenerateContacts(cfg, nil, []GroundSite{{ID: 1}, {ID: 1}})
	if err == nil {
		t.Fatalf("expected duplicate id error")
	}
}
