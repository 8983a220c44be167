package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/attrstore/internal/ir"
	"github.com/roach88/attrstore/internal/queryir"
)

// Scenario is a scripted sequence of store operations with expectations on
// each step and assertions on the final state.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario exercises.
	Description string `yaml:"description"`

	// Journal runs the store over an in-memory SQLite journal and, after
	// the last step, checks that replaying it reproduces the final state.
	Journal bool `yaml:"journal,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step operations.
const (
	OpCreateAttributeType = "create_attribute_type"
	OpUpdate              = "update"
	OpDelete              = "delete"
	OpGet                 = "get"
	OpQuery               = "query"
	OpWatch               = "watch"
	OpCloseWatch          = "close_watch"
	OpCompact             = "compact"
)

var stepOps = []string{
	OpCreateAttributeType, OpUpdate, OpDelete, OpGet, OpQuery, OpWatch, OpCloseWatch, OpCompact,
}

// Step is one store operation.
//
// Attribute values use the wire form, e.g. {text: Alice}, {entityRef: 7} or
// {bytes: AQID}. Queries use the wire form of the query tree and default to
// matchAll. Locators use the "id:7" / "symbol:alice" form.
type Step struct {
	Op string `yaml:"op"`

	// create_attribute_type
	Symbol string `yaml:"symbol,omitempty"`
	Kind   string `yaml:"kind,omitempty"`

	// update, delete, get
	Locator string         `yaml:"locator,omitempty"`
	Create  bool           `yaml:"create,omitempty"` // set @symbolName to the locator's symbol
	Set     map[string]any `yaml:"set,omitempty"`
	Clear   []string       `yaml:"clear,omitempty"`

	// query, watch, close_watch
	Watch          string   `yaml:"watch,omitempty"`
	Query          any      `yaml:"query,omitempty"`
	AttributeTypes []string `yaml:"attribute_types,omitempty"`
	Initial        bool     `yaml:"initial,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect checks the outcome of one step.
type Expect struct {
	// Error is the expected error code. Empty means the step must succeed.
	Error string `yaml:"error,omitempty"`

	// ID is the expected entity id of the result.
	ID *int64 `yaml:"id,omitempty"`

	// Attributes must all be present on the resulting entity with equal
	// values. Other attributes are ignored.
	Attributes map[string]any `yaml:"attributes,omitempty"`

	// Count is the expected number of query results.
	Count *int `yaml:"count,omitempty"`
}

// Assertion types.
const (
	AssertEntityState    = "entity_state"
	AssertEntityAbsent   = "entity_absent"
	AssertQueryCount     = "query_count"
	AssertEventCount     = "event_count"
	AssertWatchConverges = "watch_converges"
)

// Assertion checks the state after the last step.
type Assertion struct {
	Type string `yaml:"type"`

	// entity_state, entity_absent
	Locator    string         `yaml:"locator,omitempty"`
	Attributes map[string]any `yaml:"attributes,omitempty"`

	// query_count
	Query any `yaml:"query,omitempty"`

	// event_count, watch_converges
	Watch string `yaml:"watch,omitempty"`
	Event string `yaml:"event,omitempty"` // added, modified or removed; empty counts all

	Count *int `yaml:"count,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	watches := map[string]bool{}
	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i], watches); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], watches); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step, watches map[string]bool) error {
	if !slices.Contains(stepOps, st.Op) {
		return fmt.Errorf("steps[%d]: unknown op %q", index, st.Op)
	}
	switch st.Op {
	case OpCreateAttributeType:
		if st.Symbol == "" || st.Kind == "" {
			return fmt.Errorf("steps[%d]: symbol and kind are required for %s", index, st.Op)
		}
	case OpUpdate:
		if st.Locator == "" {
			return fmt.Errorf("steps[%d]: locator is required for %s", index, st.Op)
		}
		if !st.Create && len(st.Set) == 0 && len(st.Clear) == 0 {
			return fmt.Errorf("steps[%d]: update needs create, set, or clear", index)
		}
	case OpDelete, OpGet:
		if st.Locator == "" {
			return fmt.Errorf("steps[%d]: locator is required for %s", index, st.Op)
		}
	case OpWatch:
		if st.Watch == "" {
			return fmt.Errorf("steps[%d]: watch name is required for %s", index, st.Op)
		}
		if watches[st.Watch] {
			return fmt.Errorf("steps[%d]: watch %q is already defined", index, st.Watch)
		}
		watches[st.Watch] = true
	case OpCloseWatch:
		if !watches[st.Watch] {
			return fmt.Errorf("steps[%d]: unknown watch %q", index, st.Watch)
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion, watches map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	switch a.Type {
	case AssertEntityState:
		if a.Locator == "" {
			return fmt.Errorf("assertions[%d]: locator is required for entity_state", index)
		}
		if len(a.Attributes) == 0 {
			return fmt.Errorf("assertions[%d]: attributes are required for entity_state", index)
		}
	case AssertEntityAbsent:
		if a.Locator == "" {
			return fmt.Errorf("assertions[%d]: locator is required for entity_absent", index)
		}
	case AssertQueryCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for query_count", index)
		}
	case AssertEventCount:
		if !watches[a.Watch] {
			return fmt.Errorf("assertions[%d]: unknown watch %q", index, a.Watch)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
		switch ir.EventType(a.Event) {
		case "", ir.EventAdded, ir.EventModified, ir.EventRemoved:
		default:
			return fmt.Errorf("assertions[%d]: unknown event type %q", index, a.Event)
		}
	case AssertWatchConverges:
		if !watches[a.Watch] {
			return fmt.Errorf("assertions[%d]: unknown watch %q", index, a.Watch)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// viaJSON converts a YAML-decoded value to its JSON encoding so the wire
// decoders in ir and queryir can parse it.
func viaJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// parseQuery decodes a YAML query tree. A missing query matches everything.
func parseQuery(v any) (queryir.Node, error) {
	if v == nil {
		return queryir.MatchAll{}, nil
	}
	data, err := viaJSON(v)
	if err != nil {
		return nil, err
	}
	return queryir.Unmarshal(data)
}

func parseValue(v any) (ir.AttributeValue, error) {
	data, err := viaJSON(v)
	if err != nil {
		return nil, err
	}
	return ir.UnmarshalAttributeValue(data)
}

// parseAttributes decodes a symbol-to-value map into a sorted slice of
// symbol/value pairs.
func parseAttributes(in map[string]any) ([]ir.AttributeToUpdate, error) {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]ir.AttributeToUpdate, 0, len(in))
	for _, k := range keys {
		sym, err := ir.ParseSymbol(k)
		if err != nil {
			return nil, err
		}
		v, err := parseValue(in[k])
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		if v == nil {
			return nil, fmt.Errorf("attribute %q: use clear to remove a value", k)
		}
		out = append(out, ir.Set(sym, v))
	}
	return out, nil
}

func parseSymbols(in []string) ([]ir.Symbol, error) {
	out := make([]ir.Symbol, 0, len(in))
	for _, s := range in {
		sym, err := ir.ParseSymbol(s)
		if err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, nil
}

// updateEntries builds the attribute list of an update step: the
// @symbolName alias for create, then set entries, then clears.
func (st *Step) updateEntries(loc ir.EntityLocator) ([]ir.AttributeToUpdate, error) {
	var entries []ir.AttributeToUpdate
	if st.Create {
		sym, ok := loc.(ir.BySymbol)
		if !ok {
			return nil, fmt.Errorf("create needs a symbol locator, got %s", loc)
		}
		entries = append(entries, ir.Set(ir.SymbolSymbolName, ir.Text(sym)))
	}
	sets, err := parseAttributes(st.Set)
	if err != nil {
		return nil, err
	}
	entries = append(entries, sets...)
	clears, err := parseSymbols(st.Clear)
	if err != nil {
		return nil, err
	}
	for _, sym := range clears {
		entries = append(entries, ir.Clear(sym))
	}
	return entries, nil
}
