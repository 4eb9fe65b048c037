package sim

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/dtn-simulator/core"
	"github.com/signalsfoundry/dtn-simulator/internal/routing"
	"github.com/signalsfoundry/dtn-simulator/model"
)

// ErrInvalidScenario wraps every scenario validation failure.
var ErrInvalidScenario = errors.New("invalid scenario")

// Connectivity sources.
const (
	ConnectivitySchedule    = "schedule"
	ConnectivityContactPlan = "contact-plan"
	ConnectivityFull        = "full"
)

// Node processing orders.
const (
	OrderAscending = "ascending"
	OrderSeeded    = "seeded"
)

// Scenario event types.
const (
	EventAddContact         = "add_contact"
	EventRemoveNodeContacts = "remove_node_contacts"
	EventRemoveWindow       = "remove_window"
)

// Scenario is a complete simulation run description.
type Scenario struct {
	Name string `json:"name" yaml:"name"`

	Protocol       string `json:"protocol" yaml:"protocol"`
	SprayCopies    int    `json:"spray_copies" yaml:"spray_copies"`
	SprayMode      string `json:"spray_mode" yaml:"spray_mode"`
	NoRoute        string `json:"no_route" yaml:"no_route"`
	BundleLifespan int64  `json:"bundle_lifespan" yaml:"bundle_lifespan"`
	MappingTimeout int64  `json:"mapping_timeout" yaml:"mapping_timeout"`

	Start int64  `json:"start" yaml:"start"`
	Steps int    `json:"steps" yaml:"steps"`
	Order string `json:"order" yaml:"order"`
	Seed  int64  `json:"seed" yaml:"seed"`

	Connectivity string     `json:"connectivity" yaml:"connectivity"`
	Links        []LinkSpec `json:"links" yaml:"links"`

	Nodes           []NodeSpec           `json:"nodes" yaml:"nodes"`
	ContactPlan     []core.ContactRecord `json:"contact_plan" yaml:"contact_plan"`
	ContactPlanFile string               `json:"contact_plan_file" yaml:"contact_plan_file"`

	Traffic []TrafficSpec `json:"traffic" yaml:"traffic"`
	Events  []EventSpec   `json:"events" yaml:"events"`

	// dir resolves relative file references.
	dir string
}

// NodeSpec declares one participant.
type NodeSpec struct {
	ID   int64  `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Role string `json:"role" yaml:"role"`
	// Client names the client identity of a client node. Defaults to Name.
	Client string `json:"client" yaml:"client"`
}

// LinkSpec is a symmetric connectivity window [Start, End). A missing End
// means the link stays up.
type LinkSpec struct {
	A     int64  `json:"a" yaml:"a"`
	B     int64  `json:"b" yaml:"b"`
	Start int64  `json:"start" yaml:"start"`
	End   *int64 `json:"end,omitempty" yaml:"end,omitempty"`
}

// TrafficSpec injects data at tick At. Router traffic sets Source and
// Dest; client traffic sets From and To.
type TrafficSpec struct {
	At       int64  `json:"at" yaml:"at"`
	Source   int64  `json:"source" yaml:"source"`
	Dest     int64  `json:"dest" yaml:"dest"`
	Size     int    `json:"size" yaml:"size"`
	Lifespan int64  `json:"lifespan" yaml:"lifespan"`
	Count    int    `json:"count" yaml:"count"`
	Every    int64  `json:"every" yaml:"every"`
	From     string `json:"from_client" yaml:"from_client"`
	To       string `json:"to_client" yaml:"to_client"`
	Body     string `json:"body" yaml:"body"`
}

// IsClient reports whether the traffic is a client message.
func (t TrafficSpec) IsClient() bool { return t.From != "" || t.To != "" }

// EventSpec mutates contact plans at tick At. Nodes lists the nodes whose
// plans change; empty means every contact-plan node.
type EventSpec struct {
	At      int64               `json:"at" yaml:"at"`
	Type    string              `json:"type" yaml:"type"`
	Nodes   []int64             `json:"nodes" yaml:"nodes"`
	Contact *core.ContactRecord `json:"contact,omitempty" yaml:"contact,omitempty"`
	Node    int64               `json:"node" yaml:"node"`
	A       int64               `json:"a" yaml:"a"`
	B       int64               `json:"b" yaml:"b"`
	Start   int64               `json:"start" yaml:"start"`
	End     int64               `json:"end" yaml:"end"`
}

// LoadScenario reads a scenario file. The format follows the extension:
// .yaml/.yml or .json.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var sc *Scenario
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		sc, err = ParseScenarioYAML(data)
	case ".json":
		sc, err = ParseScenarioJSON(data)
	default:
		return nil, fmt.Errorf("%w: unsupported scenario extension %q", ErrInvalidScenario, ext)
	}
	if err != nil {
		return nil, err
	}
	sc.dir = filepath.Dir(path)
	return sc, nil
}

// ParseScenarioYAML decodes and validates a YAML scenario.
func ParseScenarioYAML(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("%w: decode yaml: %v", ErrInvalidScenario, err)
	}
	sc.applyDefaults()
	return &sc, sc.Validate()
}

// ParseScenarioJSON decodes and validates a JSON scenario.
func ParseScenarioJSON(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrInvalidScenario, err)
	}
	sc.applyDefaults()
	return &sc, sc.Validate()
}

func (s *Scenario) applyDefaults() {
	if s.Protocol == "" {
		s.Protocol = routing.KindCGR.String()
	}
	if s.Order == "" {
		s.Order = OrderAscending
	}
	if s.Connectivity == "" {
		if len(s.Links) > 0 {
			s.Connectivity = ConnectivitySchedule
		} else {
			s.Connectivity = ConnectivityContactPlan
		}
	}
	if s.BundleLifespan <= 0 {
		s.BundleLifespan = model.DefaultBundleLifespan
	}
	for i := range s.Nodes {
		if s.Nodes[i].Name == "" {
			s.Nodes[i].Name = fmt.Sprintf("node-%d", s.Nodes[i].ID)
		}
		if s.Nodes[i].Client == "" {
			s.Nodes[i].Client = s.Nodes[i].Name
		}
	}
}

// Validate reports every structural problem at once.
func (s *Scenario) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidScenario}, args...)...))
	}

	if _, err := routing.ParseKind(s.Protocol); err != nil {
		bad("%v", err)
	}
	if _, err := routing.ParseNoRoutePolicy(s.NoRoute); err != nil {
		bad("%v", err)
	}
	if _, err := routing.ParseSprayMode(s.SprayMode); err != nil {
		bad("%v", err)
	}
	switch s.Order {
	case OrderAscending, OrderSeeded:
	default:
		bad("unknown node order %q", s.Order)
	}
	switch s.Connectivity {
	case ConnectivitySchedule, ConnectivityContactPlan, ConnectivityFull:
	default:
		bad("unknown connectivity source %q", s.Connectivity)
	}
	if s.Steps < 0 {
		bad("steps must be >= 0, got %d", s.Steps)
	}
	if len(s.Nodes) == 0 {
		bad("no nodes declared")
	}

	roles := make(map[int64]model.Role, len(s.Nodes))
	clients := make(map[string]bool)
	for _, n := range s.Nodes {
		if _, dup := roles[n.ID]; dup {
			bad("duplicate node id %d", n.ID)
			continue
		}
		role, err := model.ParseRole(n.Role)
		if err != nil {
			bad("node %d: %v", n.ID, err)
			continue
		}
		roles[n.ID] = role
		if role == model.RoleClient {
			if clients[n.Client] {
				bad("duplicate client id %q", n.Client)
			}
			clients[n.Client] = true
		}
	}

	for i, l := range s.Links {
		if _, ok := roles[l.A]; !ok {
			bad("link %d: unknown node %d", i, l.A)
		}
		if _, ok := roles[l.B]; !ok {
			bad("link %d: unknown node %d", i, l.B)
		}
		if l.End != nil && *l.End <= l.Start {
			bad("link %d: end %d <= start %d", i, *l.End, l.Start)
		}
	}

	for i, tr := range s.Traffic {
		if tr.IsClient() {
			if !clients[tr.From] || !clients[tr.To] {
				bad("traffic %d: unknown client %q -> %q", i, tr.From, tr.To)
			}
		} else {
			src, okSrc := roles[tr.Source]
			dst, okDst := roles[tr.Dest]
			if !okSrc || !okDst || src != model.RoleRouter || dst != model.RoleRouter {
				bad("traffic %d: %d -> %d must connect declared routers", i, tr.Source, tr.Dest)
			}
		}
		if tr.Count > 1 && tr.Every <= 0 {
			bad("traffic %d: count %d needs every > 0", i, tr.Count)
		}
	}

	for i, ev := range s.Events {
		switch ev.Type {
		case EventAddContact:
			if ev.Contact == nil {
				bad("event %d: add_contact without contact", i)
			}
		case EventRemoveNodeContacts:
		case EventRemoveWindow:
			if ev.End <= ev.Start {
				bad("event %d: window end %d <= start %d", i, ev.End, ev.Start)
			}
		default:
			bad("event %d: unknown type %q", i, ev.Type)
		}
		for _, id := range ev.Nodes {
			if role, ok := roles[id]; !ok || role != model.RoleRouter {
				bad("event %d: node %d is not a declared router", i, id)
			}
		}
	}

	if plan := s.inlinePlan(); len(plan.Contacts) > 0 {
		if err := core.Verify(plan).Err(); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidScenario, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scenario) inlinePlan() *core.ContactPlan {
	return &core.ContactPlan{Contacts: s.ContactPlan}
}

// Contacts returns the scenario's initial contact plan: the referenced
// file, if any, followed by the inline records.
func (s *Scenario) Contacts() ([]model.Contact, error) {
	var out []model.Contact
	if s.ContactPlanFile != "" {
		path := s.ContactPlanFile
		if !filepath.IsAbs(path) && s.dir != "" {
			path = filepath.Join(s.dir, path)
		}
		contacts, _, err := core.LoadContacts(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
		}
		out = append(out, contacts...)
	}
	return append(out, s.inlinePlan().ModelContacts()...), nil
}

// RoutingConfig translates the scenario's protocol options.
func (s *Scenario) RoutingConfig() (routing.Kind, routing.Config, error) {
	kind, err := routing.ParseKind(s.Protocol)
	if err != nil {
		return 0, routing.Config{}, err
	}
	policy, err := routing.ParseNoRoutePolicy(s.NoRoute)
	if err != nil {
		return 0, routing.Config{}, err
	}
	mode, err := routing.ParseSprayMode(s.SprayMode)
	if err != nil {
		return 0, routing.Config{}, err
	}
	return kind, routing.Config{
		NoRoute:     policy,
		SprayCopies: s.SprayCopies,
		SprayMode:   mode,
	}, nil
}
