package profile

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/adrecon/internal/ir"
)

// Format is a sub-field encoding a rule can decode.
type Format string

const (
	FormatJSON   Format = "json"
	FormatPyDict Format = "pydict"
)

// TimestampGroup is the capture name parsed as the line timestamp.
const TimestampGroup = "ts"

// OwnerField is bound from the event subject rather than a capture.
const OwnerField = "owner"

// SummaryBinding is the template name for the composed mismatch summary.
const SummaryBinding = "summary"

// reservedSetFields are row fields only the reconciler itself writes.
var reservedSetFields = []string{ir.FieldID, ir.FieldAccountID, ir.FieldStatus, ir.FieldLastMessage}

// MismatchFields maps strict-mode field names to row fields.
var MismatchFields = map[string]string{
	"page_name":     "page_name",
	"item_name":     ir.FieldItemName,
	"campaign_code": ir.FieldCode,
}

// KeyField is one entry of a key set.
type KeyField struct {
	Name     string
	Optional bool
}

// Decode extracts a value from an encoded capture.
type Decode struct {
	From   string
	Format Format
	Path   string
	As     string
}

// Rule is one compiled pattern rule.
type Rule struct {
	Name       string
	Kind       ir.FactKind
	Pattern    *regexp.Regexp
	Keys       [][]KeyField
	Scope      ir.Scope
	Status     string
	Notice     string
	Verify     *ir.VerificationUpdate
	Set        map[string]string
	Decode     []Decode
	Numbers    []string
	Mismatches string
	Remember   []string
	Recall     []string
}

// Profile is an ordered rule table for one view.
type Profile struct {
	Name  string
	Topic string
	Rules []Rule
}

// Set is a collection of profiles keyed by name.
type Set struct {
	profiles map[string]*Profile
}

// NewSet returns a set holding the given profiles. Later duplicates win.
func NewSet(profiles ...*Profile) *Set {
	s := &Set{profiles: make(map[string]*Profile, len(profiles))}
	for _, p := range profiles {
		s.profiles[p.Name] = p
	}
	return s
}

// Get returns the named profile.
func (s *Set) Get(name string) (*Profile, bool) {
	p, ok := s.profiles[name]
	return p, ok
}

// Names returns profile names in sorted order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of profiles.
func (s *Set) Len() int {
	return len(s.profiles)
}

// merge adds or replaces profiles from other.
func (s *Set) merge(other *Set) {
	for name, p := range other.profiles {
		s.profiles[name] = p
	}
}

// profileDoc mirrors the CUE #Profile definition.
type profileDoc struct {
	Topic string    `json:"topic"`
	Rules []ruleDoc `json:"rules"`
}

type ruleDoc struct {
	Name       string            `json:"name"`
	Kind       string            `json:"kind"`
	Pattern    string            `json:"pattern"`
	Keys       [][]string        `json:"keys"`
	Scope      string            `json:"scope"`
	Status     string            `json:"status"`
	Notice     string            `json:"notice"`
	Verify     *verifyDoc        `json:"verify,omitempty"`
	Set        map[string]string `json:"set,omitempty"`
	Decode     []decodeDoc       `json:"decode"`
	Numbers    []string          `json:"numbers"`
	Mismatches string            `json:"mismatches"`
	Remember   []string          `json:"remember"`
	Recall     []string          `json:"recall"`
}

type verifyDoc struct {
	Dimension string `json:"dimension"`
	State     string `json:"state"`
	Error     string `json:"error"`
}

type decodeDoc struct {
	From   string `json:"from"`
	Format string `json:"format"`
	Path   string `json:"path"`
	As     string `json:"as"`
}

// compileProfile converts a decoded document into a Profile, compiling
// patterns and checking that every key field can be bound.
func compileProfile(name string, doc profileDoc) (*Profile, error) {
	p := &Profile{Name: name, Topic: doc.Topic}
	seen := make(map[string]bool, len(doc.Rules))

	for i, rd := range doc.Rules {
		if seen[rd.Name] {
			return nil, &LoadError{
				Field:   fmt.Sprintf("profile.%s.rules[%d].name", name, i),
				Message: fmt.Sprintf("duplicate rule name %q", rd.Name),
			}
		}
		seen[rd.Name] = true

		rule, err := compileRule(rd)
		if err != nil {
			return nil, &LoadError{
				Field:   fmt.Sprintf("profile.%s.rules[%d]", name, i),
				Message: err.Error(),
			}
		}
		p.Rules = append(p.Rules, rule)
	}
	return p, nil
}

func compileRule(rd ruleDoc) (Rule, error) {
	kind, err := ir.ParseFactKind(rd.Kind)
	if err != nil {
		return Rule{}, err
	}
	if kind == ir.KindUnknown {
		return Rule{}, fmt.Errorf("rule %q: kind Unknown is reserved for unmatched lines", rd.Name)
	}

	re, err := regexp.Compile(rd.Pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: pattern: %w", rd.Name, err)
	}

	rule := Rule{
		Name:       rd.Name,
		Kind:       kind,
		Pattern:    re,
		Scope:      ir.Scope(rd.Scope),
		Status:     rd.Status,
		Notice:     rd.Notice,
		Numbers:    rd.Numbers,
		Mismatches: rd.Mismatches,
		Remember:   rd.Remember,
		Recall:     rd.Recall,
	}
	if rule.Scope == "" {
		rule.Scope = ir.ScopeItem
	}

	groups := make(map[string]bool)
	for _, g := range re.SubexpNames() {
		if g != "" {
			groups[g] = true
		}
	}
	bindable := make(map[string]bool, len(groups))
	for g := range groups {
		bindable[g] = true
	}
	bindable[OwnerField] = true

	requireGroup := func(what, name string) error {
		if !groups[name] {
			return fmt.Errorf("rule %q: %s refers to unknown capture %q", rd.Name, what, name)
		}
		return nil
	}

	for _, d := range rd.Decode {
		if err := requireGroup("decode", d.From); err != nil {
			return Rule{}, err
		}
		rule.Decode = append(rule.Decode, Decode{
			From:   d.From,
			Format: Format(d.Format),
			Path:   d.Path,
			As:     d.As,
		})
		bindable[d.As] = true
	}
	for _, n := range rd.Numbers {
		if err := requireGroup("numbers", n); err != nil {
			return Rule{}, err
		}
	}
	if rd.Mismatches != "" {
		if err := requireGroup("mismatches", rd.Mismatches); err != nil {
			return Rule{}, err
		}
		for _, f := range MismatchFields {
			bindable[f] = true
		}
	}
	for _, n := range rd.Recall {
		bindable[n] = true
	}
	for _, n := range rd.Remember {
		if !bindable[n] {
			return Rule{}, fmt.Errorf("rule %q: remember refers to unbound name %q", rd.Name, n)
		}
	}

	for _, ks := range rd.Keys {
		if len(ks) == 0 {
			return Rule{}, fmt.Errorf("rule %q: empty key set", rd.Name)
		}
		fields := make([]KeyField, 0, len(ks))
		for _, entry := range ks {
			kf := KeyField{Name: strings.TrimSuffix(entry, "?"), Optional: strings.HasSuffix(entry, "?")}
			if !bindable[kf.Name] {
				return Rule{}, fmt.Errorf("rule %q: key field %q is never bound", rd.Name, kf.Name)
			}
			if slices.ContainsFunc(fields, func(f KeyField) bool { return f.Name == kf.Name }) {
				return Rule{}, fmt.Errorf("rule %q: key field %q repeated", rd.Name, kf.Name)
			}
			fields = append(fields, kf)
		}
		rule.Keys = append(rule.Keys, fields)
	}

	if rd.Verify != nil {
		state, err := ir.ParseVerificationState(rd.Verify.State)
		if err != nil {
			return Rule{}, fmt.Errorf("rule %q: verify: %w", rd.Name, err)
		}
		rule.Verify = &ir.VerificationUpdate{
			Dimension: ir.Dimension(rd.Verify.Dimension),
			State:     state,
			Error:     rd.Verify.Error,
		}
	}

	for field := range rd.Set {
		if field == "" || slices.Contains(reservedSetFields, field) {
			return Rule{}, fmt.Errorf("rule %q: set cannot write field %q", rd.Name, field)
		}
	}
	if len(rd.Set) > 0 {
		rule.Set = rd.Set
	}

	if rule.Status == "" && rule.Verify == nil && rule.Notice == "" && len(rule.Set) == 0 {
		return Rule{}, fmt.Errorf("rule %q: needs a status, notice, verify or set", rd.Name)
	}
	return rule, nil
}
