package sim

import (
	"context"
	"path/filepath"
	"testing"
)

func TestExampleScenariosRun(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("..", "..", "examples", "*", "scenario.yaml"))
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(paths) == 0 {
		t.Fatalf("no example scenarios found")
	}
	for _, path := range paths {
		path := path
		t.Run(filepath.Base(filepath.Dir(path)), func(t *testing.T) {
			sc, err := LoadScenario(path)
			if err != nil {
				t.Fatalf("LoadScenario: %v", err)
			}
			engine, err := Build(sc, BuildOptions{})
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if err := engine.Run(context.Background()); err != nil {
				t.Fatalf("Run: %v", err)
			}
			s := engine.Summary()
			if s.Ticks != sc.Steps {
				t.Fatalf("ran %d ticks, want %d", s.Ticks, sc.Steps)
			}
			if s.Deliveries == 0 {
				t.Fatalf("no bundle delivered: %+v", s)
			}
		})
	}
}
