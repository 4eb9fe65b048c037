package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalsfoundry/dtn-simulator/internal/sim"
	"github.com/signalsfoundry/dtn-simulator/internal/sim/state"
)

const lineScenario = `
name: line
steps: 5
nodes:
  - {id: 1}
  - {id: 2}
  - {id: 3}
contact_plan:
  - {contact: 1, source: 1, dest: 2, startTime: 0, rate: 100}
  - {contact: 2, source: 2, dest: 3, startTime: 0, rate: 100}
  - {contact: 3, source: 2, dest: 1, startTime: 0, rate: 100}
  - {contact: 4, source: 3, dest: 2, startTime: 0, rate: 100}
traffic:
  - {at: 0, source: 1, dest: 3, size: 8}
`

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestRunWritesSummaryHistoryAndMetrics(t *testing.T) {
	dir := t.TempDir()
	historyPath := filepath.Join(dir, "history.jsonl")
	metricsPath := filepath.Join(dir, "metrics.prom")

	var stdout, stderr bytes.Buffer
	args := []string{
		"-scenario", writeScenario(t, lineScenario),
		"-history", historyPath,
		"-metrics", metricsPath,
	}
	if err := run(context.Background(), args, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v (stderr: %s)", err, stderr.String())
	}

	var summary sim.Summary
	if err := json.Unmarshal(stdout.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v\n%s", err, stdout.String())
	}
	if summary.Protocol != "cgr" || summary.Ticks != 5 {
		t.Fatalf("summary = %+v, want cgr over 5 ticks", summary)
	}
	if summary.Deliveries != 1 || summary.DeliveryRatio != 1 {
		t.Fatalf("deliveries = %d ratio = %v, want 1 and 1", summary.Deliveries, summary.DeliveryRatio)
	}

	f, err := os.Open(historyPath)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer f.Close()
	records, err := state.ReadJSONL(f)
	if err != nil {
		t.Fatalf("ReadJSONL: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("history has %d records, want 5", len(records))
	}

	metrics, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(metrics), `dtnsim_bundles_delivered_total{node="3",protocol="cgr"} 1`) {
		t.Fatalf("metrics missing delivery counter:\n%s", metrics)
	}
}

func TestRunOverridesProtocolAndSteps(t *testing.T) {
	var stdout bytes.Buffer
	args := []string{
		"-scenario", writeScenario(t, lineScenario),
		"-protocol", "epidemic",
		"-steps", "3",
		"-order", "seeded",
		"-seed", "7",
	}
	if err := run(context.Background(), args, &stdout, &bytes.Buffer{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	var summary sim.Summary
	if err := json.Unmarshal(stdout.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Protocol != "epidemic" || summary.Ticks != 3 {
		t.Fatalf("summary = %+v, want epidemic over 3 ticks", summary)
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	noSteps := strings.Replace(lineScenario, "steps: 5\n", "", 1)
	tests := []struct {
		name string
		args []string
		want error
	}{
		{name: "missing scenario flag", args: nil},
		{name: "unknown protocol", args: []string{"-scenario", writeScenario(t, lineScenario), "-protocol", "flood"}, want: sim.ErrInvalidScenario},
		{name: "no steps", args: []string{"-scenario", writeScenario(t, noSteps)}, want: sim.ErrInvalidScenario},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := run(context.Background(), tc.args, &bytes.Buffer{}, &bytes.Buffer{})
			if err == nil {
				t.Fatalf("run succeeded, want error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("run error = %v, want %v", err, tc.want)
			}
		})
	}
}
