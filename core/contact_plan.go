package core

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/dtn-simulator/model"
)

var (
	// ErrInvalidContact marks contact-plan records that fail verification.
	ErrInvalidContact = errors.New("invalid contact")
	// ErrUnsupportedFormat is returned for file extensions or format names
	// that have no reader.
	ErrUnsupportedFormat = errors.New("unsupported contact plan format")
)

// Format names a contact-plan encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatYAML Format = "yaml"
)

// ParseFormat maps a user supplied name onto a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

// ContactRecord is the on-disk shape of one contact. A missing endTime
// means the contact never closes; a missing confidence means 1.
type ContactRecord struct {
	ID         int64    `json:"contact" yaml:"contact"`
	Source     int64    `json:"source" yaml:"source"`
	Dest       int64    `json:"dest" yaml:"dest"`
	StartTime  int64    `json:"startTime" yaml:"startTime"`
	EndTime    *int64   `json:"endTime,omitempty" yaml:"endTime,omitempty"`
	Rate       float64  `json:"rate" yaml:"rate"`
	OWLT       int64    `json:"owlt" yaml:"owlt"`
	Confidence *float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

// ContactPlan is a full contact-plan document.
type ContactPlan struct {
	Contacts []ContactRecord `json:"contacts" yaml:"contacts"`
}

// Contact converts the record into a model contact.
func (r ContactRecord) Contact() model.Contact {
	end := model.Forever
	if r.EndTime != nil {
		end = *r.EndTime
	}
	conf := 1.0
	if r.Confidence != nil {
		conf = *r.Confidence
	}
	return model.Contact{
		ID:         model.ContactID(r.ID),
		Source:     model.NodeID(r.Source),
		Dest:       model.NodeID(r.Dest),
		Start:      r.StartTime,
		End:        end,
		Rate:       r.Rate,
		OWLT:       r.OWLT,
		Confidence: conf,
	}
}

// RecordFromContact is the inverse of ContactRecord.Contact.
func RecordFromContact(c model.Contact) ContactRecord {
	rec := ContactRecord{
		ID:        int64(c.ID),
		Source:    int64(c.Source),
		Dest:      int64(c.Dest),
		StartTime: c.Start,
		Rate:      c.Rate,
		OWLT:      c.OWLT,
	}
	if c.End != model.Forever {
		end := c.End
		rec.EndTime = &end
	}
	conf := c.Confidence
	rec.Confidence = &conf
	return rec
}

// PlanFromContacts builds a document from model contacts.
func PlanFromContacts(contacts []model.Contact) *ContactPlan {
	plan := &ContactPlan{Contacts: make([]ContactRecord, 0, len(contacts))}
	for _, c := range contacts {
		plan.Contacts = append(plan.Contacts, RecordFromContact(c))
	}
	return plan
}

// ModelContacts converts every record, in file order.
func (p *ContactPlan) ModelContacts() []model.Contact {
	out := make([]model.Contact, 0, len(p.Contacts))
	for _, r := range p.Contacts {
		out = append(out, r.Contact())
	}
	return out
}

// ReadContactPlan decodes a plan in the given format.
func ReadContactPlan(r io.Reader, f Format) (*ContactPlan, error) {
	var plan ContactPlan
	switch f {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&plan); err != nil {
			return nil, fmt.Errorf("decode json contact plan: %w", err)
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&plan); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode yaml contact plan: %w", err)
		}
	case FormatCSV:
		recs, err := readCSV(r)
		if err != nil {
			return nil, err
		}
		plan.Contacts = recs
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
	return &plan, nil
}

// ReadContactPlanFile reads a plan choosing the format by extension.
func ReadContactPlanFile(path string) (*ContactPlan, error) {
	f, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open contact plan: %w", err)
	}
	defer fh.Close()
	return ReadContactPlan(fh, f)
}

// LoadContacts reads a plan file and rejects it if verification finds any
// error. Warnings are returned in the report for the caller to log.
func LoadContacts(path string) ([]model.Contact, *VerifyReport, error) {
	plan, err := ReadContactPlanFile(path)
	if err != nil {
		return nil, nil, err
	}
	report := Verify(plan)
	if err := report.Err(); err != nil {
		return nil, report, fmt.Errorf("contact plan %s: %w", path, err)
	}
	return plan.ModelContacts(), report, nil
}

// WriteContactPlan encodes plan in the given format.
func WriteContactPlan(w io.Writer, plan *ContactPlan, f Format) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "    ")
		return enc.Encode(plan)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(plan); err != nil {
			return err
		}
		return enc.Close()
	case FormatCSV:
		return writeCSV(w, plan.Contacts)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
}

// WriteContactPlanFile writes plan to path choosing the format by extension.
func WriteContactPlanFile(path string, plan *ContactPlan) error {
	f, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := WriteContactPlan(&buf, plan, f); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

var csvHeader = []string{"contact_id", "source", "dest", "startTime", "endTime", "rate", "owlt", "confidence"}

func readCSV(r io.Reader) ([]ContactRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("decode csv contact plan: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	col := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		col[strings.TrimSpace(name)] = i
	}
	for _, required := range csvHeader[:6] {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("decode csv contact plan: missing column %q", required)
		}
	}

	out := make([]ContactRecord, 0, len(rows)-1)
	for line, row := range rows[1:] {
		field := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		wrap := func(name string, err error) error {
			return fmt.Errorf("csv line %d column %s: %w", line+2, name, err)
		}

		var rec ContactRecord
		var err error
		if rec.ID, err = strconv.ParseInt(field("contact_id"), 10, 64); err != nil {
			return nil, wrap("contact_id", err)
		}
		if rec.Source, err = strconv.ParseInt(field("source"), 10, 64); err != nil {
			return nil, wrap("source", err)
		}
		if rec.Dest, err = strconv.ParseInt(field("dest"), 10, 64); err != nil {
			return nil, wrap("dest", err)
		}
		if rec.StartTime, err = strconv.ParseInt(field("startTime"), 10, 64); err != nil {
			return nil, wrap("startTime", err)
		}
		if v := field("endTime"); v != "" && !strings.EqualFold(v, "inf") {
			end, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, wrap("endTime", err)
			}
			rec.EndTime = &end
		}
		if rec.Rate, err = strconv.ParseFloat(field("rate"), 64); err != nil {
			return nil, wrap("rate", err)
		}
		if v := field("owlt"); v != "" {
			if rec.OWLT, err = strconv.ParseInt(v, 10, 64); err != nil {
				return nil, wrap("owlt", err)
			}
		}
		if v := field("confidence"); v != "" {
			conf, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, wrap("confidence", err)
			}
			rec.Confidence = &conf
		}
		out = append(out, rec)
	}
	return out, nil
}

func writeCSV(w io.Writer, recs []ContactRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range recs {
		end := "inf"
		if r.EndTime != nil {
			end = strconv.FormatInt(*r.EndTime, 10)
		}
		conf := "1"
		if r.Confidence != nil {
			conf = strconv.FormatFloat(*r.Confidence, 'g', -1, 64)
		}
		row := []string{
			strconv.FormatInt(r.ID, 10),
			strconv.FormatInt(r.Source, 10),
			strconv.FormatInt(r.Dest, 10),
			strconv.FormatInt(r.StartTime, 10),
			end,
			strconv.FormatFloat(r.Rate, 'g', -1, 64),
			strconv.FormatInt(r.OWLT, 10),
			conf,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// VerifyReport lists the problems found in a contact plan.
type VerifyReport struct {
	Errors   []string
	Warnings []string
}

// OK reports whether the plan has neither errors nor warnings.
func (r *VerifyReport) OK() bool {
	return len(r.Errors) == 0 && len(r.Warnings) == 0
}

// Err joins every verification error, each wrapping ErrInvalidContact.
// It returns nil when the plan has no errors.
func (r *VerifyReport) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Errors))
	for _, msg := range r.Errors {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidContact, msg))
	}
	return errors.Join(errs...)
}

// Verify checks a plan for semantic problems.
//
// Errors: duplicate contact id, start >= end, rate <= 0, negative owlt,
// confidence outside [0,1]. Warnings: gaps in the contact id numbering,
// assuming numbering starts at 0 or 1.
func Verify(plan *ContactPlan) *VerifyReport {
	report := &VerifyReport{}
	if plan == nil {
		return report
	}
	errorf := func(format string, args ...any) {
		report.Errors = append(report.Errors, fmt.Sprintf(format, args...))
	}

	seen := make(map[int64]struct{}, len(plan.Contacts))
	duplicate := false
	for _, rec := range plan.Contacts {
		c := rec.Contact()
		if _, ok := seen[rec.ID]; ok {
			errorf("duplicate contact id %d", rec.ID)
			duplicate = true
		}
		seen[rec.ID] = struct{}{}

		if c.Start >= c.End {
			errorf("contact %d: startTime %d is not before endTime %d", rec.ID, c.Start, c.End)
		}
		if c.Rate <= 0 {
			errorf("contact %d: rate %g must be positive", rec.ID, c.Rate)
		}
		if c.OWLT < 0 {
			errorf("contact %d: owlt %d is negative", rec.ID, c.OWLT)
		}
		if c.Confidence < 0 || c.Confidence > 1 {
			errorf("contact %d: confidence %g outside [0,1]", rec.ID, c.Confidence)
		}
	}

	if !duplicate && len(seen) > 0 {
		ids := make([]int64, 0, len(seen))
		for id := range seen {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		first, last := ids[0], ids[len(ids)-1]
		base := int64(1)
		if first <= 0 {
			base = 0
		}
		if want := last - base + 1; want != int64(len(ids)) {
			report.Warnings = append(report.Warnings, fmt.Sprintf(
				"%d unique contact ids but the highest id is %d (%d-indexed); a contact may be missing",
				len(ids), last, base))
		}
	}
	return report
}
