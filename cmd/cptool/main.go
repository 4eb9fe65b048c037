// Command cptool inspects, converts and generates contact plans.
//
//	cptool verify plan.json
//	cptool convert plan.csv plan.yaml
//	cptool analyze [-json] plan.json
//	cptool generate -config constellation.yaml -out plan.json
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/dtn-simulator/core"
	"github.com/signalsfoundry/dtn-simulator/model"
)

var errUsage = errors.New("usage: cptool <verify|convert|analyze|generate> [flags] args")

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "cptool: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "verify":
		return verify(rest, stdout)
	case "convert":
		return convert(rest)
	case "analyze":
		return analyze(rest, stdout, stderr)
	case "generate":
		return generate(rest, stdout, stderr)
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

func verify(args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("verify takes exactly one plan file")
	}
	plan, err := core.ReadContactPlanFile(args[0])
	if err != nil {
		return err
	}
	report := core.Verify(plan)
	for _, w := range report.Warnings {
		fmt.Fprintf(stdout, "warning: %s\n", w)
	}
	for _, e := range report.Errors {
		fmt.Fprintf(stdout, "error: %s\n", e)
	}
	if err := report.Err(); err != nil {
		return fmt.Errorf("%s: %d error(s)", args[0], len(report.Errors))
	}
	fmt.Fprintf(stdout, "%s: %d contacts OK\n", args[0], len(plan.Contacts))
	return nil
}

func convert(args []string) error {
	if len(args) != 2 {
		return errors.New("convert takes an input and an output file")
	}
	plan, err := core.ReadContactPlanFile(args[0])
	if err != nil {
		return err
	}
	return core.WriteContactPlanFile(args[1], plan)
}

func analyze(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	fs.SetOutput(stderr)
	asJSON := fs.Bool("json", false, "Print the statistics as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("analyze takes exactly one plan file")
	}
	contacts, _, err := core.LoadContacts(fs.Arg(0))
	if err != nil {
		return err
	}
	stats, err := core.AnalyzeContactPlan(contacts)
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	fmt.Fprintf(stdout, "contacts:          %d\n", stats.NumContacts)
	fmt.Fprintf(stdout, "open-ended:        %d\n", stats.OpenEnded)
	fmt.Fprintf(stdout, "total duration:    %d\n", stats.TotalContactTime)
	fmt.Fprintf(stdout, "mean duration:     %.2f\n", stats.AvgContactTime)
	fmt.Fprintf(stdout, "partner pairs:     %d\n", stats.UniquePartners)
	fmt.Fprintln(stdout)

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	header := []string{"from\\to"}
	for _, id := range stats.Nodes {
		header = append(header, fmt.Sprint(id))
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, src := range stats.Nodes {
		row := []string{fmt.Sprint(src)}
		for _, dst := range stats.Nodes {
			if h, ok := stats.Reachable(src, dst); ok {
				row = append(row, fmt.Sprint(h))
			} else {
				row = append(row, "-")
			}
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// constellation is the generator input file.
type constellation struct {
	Epoch           time.Time `yaml:"epoch"`
	Tick            string    `yaml:"tick"`
	Ticks           int64     `yaml:"ticks"`
	MaxRangeKm      float64   `yaml:"max_range_km"`
	MinElevationDeg float64   `yaml:"min_elevation_deg"`
	Rate            float64   `yaml:"rate"`
	Confidence      float64   `yaml:"confidence"`
	Orbiters        []struct {
		ID    int64  `yaml:"id"`
		Label string `yaml:"label"`
		TLE1  string `yaml:"tle1"`
		TLE2  string `yaml:"tle2"`
	} `yaml:"orbiters"`
	Sites []struct {
		ID    int64   `yaml:"id"`
		Label string  `yaml:"label"`
		Lat   float64 `yaml:"lat"`
		Lon   float64 `yaml:"lon"`
		AltKm float64 `yaml:"alt_km"`
	} `yaml:"sites"`
}

func generate(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "Constellation YAML describing orbiters and ground sites")
	out := fs.String("out", "", "Output plan file; the extension picks the format (stdout JSON if empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *cfgPath == "" {
		return errors.New("generate needs -config")
	}

	data, err := os.ReadFile(*cfgPath)
	if err != nil {
		return err
	}
	var c constellation
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return fmt.Errorf("decode %s: %w", *cfgPath, err)
	}
	tick, err := time.ParseDuration(c.Tick)
	if err != nil {
		return fmt.Errorf("tick: %w", err)
	}

	orbiters := make([]core.Orbiter, 0, len(c.Orbiters))
	for _, o := range c.Orbiters {
		orbiters = append(orbiters, core.Orbiter{ID: model.NodeID(o.ID), Label: o.Label, TLE1: o.TLE1, TLE2: o.TLE2})
	}
	sites := make([]core.GroundSite, 0, len(c.Sites))
	for _, s := range c.Sites {
		sites = append(sites, core.GroundSite{ID: model.NodeID(s.ID), Label: s.Label, LatDeg: s.Lat, LonDeg: s.Lon, AltKm: s.AltKm})
	}

	contacts, err := core.GenerateContacts(core.GeneratorConfig{
		Epoch:           c.Epoch,
		TickDuration:    tick,
		Ticks:           c.Ticks,
		MaxRangeKm:      c.MaxRangeKm,
		MinElevationDeg: c.MinElevationDeg,
		Rate:            c.Rate,
		Confidence:      c.Confidence,
	}, orbiters, sites)
	if err != nil {
		return err
	}
	plan := core.PlanFromContacts(contacts)
	if *out == "" {
		return core.WriteContactPlan(stdout, plan, core.FormatJSON)
	}
	if err := core.WriteContactPlanFile(*out, plan); err != nil {
		return err
	}
	fmt.Fprintf(stderr, "wrote %d contacts to %s\n", len(contacts), *out)
	return nil
}
