package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/adrecon/internal/ir"
	"github.com/roach88/adrecon/internal/profile"
)

// Memory carries values between lines of one view, such as the page name a
// later summary line no longer mentions.
type Memory interface {
	Recall(name string) (string, bool)
	Remember(name, value string)
}

// MapMemory is a Memory backed by a map. Not safe for concurrent use.
type MapMemory map[string]string

// Recall implements Memory.
func (m MapMemory) Recall(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// Remember implements Memory.
func (m MapMemory) Remember(name, value string) {
	m[name] = value
}

// Result is the outcome of parsing one raw event.
type Result struct {
	// LogLine is the text to append to the message log.
	LogLine string
	// Facts holds at least one fact for every parsed line.
	Facts []ir.Fact
	// Err is set when the envelope itself was malformed.
	Err error
}

// ErrMalformedEnvelope wraps envelope decoding failures.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// EmptyPayload is logged in place of an event that carried no text.
const EmptyPayload = "<empty payload>"

var (
	stampPattern    = regexp.MustCompile(`^\[([^\]]*)\] (.*)$`)
	mismatchPattern = regexp.MustCompile(`(\w+): expected '(.*?)', found '(.*?)'`)
)

// Option configures a Parser.
type Option func(*Parser)

// WithLocation sets the zone used to interpret line timestamps.
func WithLocation(loc *time.Location) Option {
	return func(p *Parser) {
		if loc != nil {
			p.loc = loc
		}
	}
}

// Parser applies one profile's rules. It holds no mutable state and is
// safe for concurrent use.
type Parser struct {
	profile *profile.Profile
	loc     *time.Location
}

// New returns a parser for the given profile. Timestamps default to UTC.
func New(p *profile.Profile, opts ...Option) *Parser {
	parser := &Parser{profile: p, loc: time.UTC}
	for _, opt := range opts {
		opt(parser)
	}
	return parser
}

// Profile returns the profile the parser applies.
func (p *Parser) Profile() *profile.Profile {
	return p.profile
}

type envelope struct {
	Data *struct {
		Message []string `json:"message"`
	} `json:"data"`
}

// Parse decodes an event envelope and parses its first line.
// The whole message array, joined by single spaces, becomes the log line.
func (p *Parser) Parse(ev ir.RawEvent, mem Memory) Result {
	var env envelope
	err := json.Unmarshal([]byte(ev.Payload), &env)
	if err == nil && (env.Data == nil || len(env.Data.Message) == 0) {
		err = errors.New("missing data.message")
	}
	if err != nil {
		return Result{
			LogLine: logLine(ev.Payload),
			Facts:   []ir.Fact{p.unknown(ev, ev.Payload)},
			Err:     fmt.Errorf("%w: %v", ErrMalformedEnvelope, err),
		}
	}

	return Result{
		LogLine: logLine(strings.Join(env.Data.Message, " ")),
		Facts:   p.ParseLine(ev, env.Data.Message[0], mem),
	}
}

func logLine(s string) string {
	if strings.TrimSpace(s) == "" {
		return EmptyPayload
	}
	return s
}

// ParseLine applies every rule to one line. It always returns at least one
// fact.
func (p *Parser) ParseLine(ev ir.RawEvent, line string, mem Memory) []ir.Fact {
	line = norm.NFC.String(line)

	var facts []ir.Fact
	for i := range p.profile.Rules {
		rule := &p.profile.Rules[i]
		m := rule.Pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		f, err := p.build(rule, m, ev, line, mem)
		if err != nil {
			slog.Debug("rule match degraded to unknown",
				"profile", p.profile.Name,
				"rule", rule.Name,
				"error", err,
			)
			f = p.unknown(ev, line)
			f.Rule = rule.Name
		}
		facts = append(facts, f)
	}

	if len(facts) == 0 {
		facts = append(facts, p.unknown(ev, line))
	}
	return facts
}

// Restore replays the remember rules over logged lines, oldest first, so a
// memory lost on restart matches what the log says. No facts are produced.
func (p *Parser) Restore(ev ir.RawEvent, lines []string, mem Memory) {
	for _, line := range lines {
		line = norm.NFC.String(line)
		for i := range p.profile.Rules {
			rule := &p.profile.Rules[i]
			if len(rule.Remember) == 0 {
				continue
			}
			m := rule.Pattern.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			if _, err := p.build(rule, m, ev, line, mem); err != nil {
				slog.Debug("logged line skipped on restore",
					"profile", p.profile.Name,
					"rule", rule.Name,
					"error", err,
				)
			}
		}
	}
}

// build turns one regexp match into a fact.
func (p *Parser) build(rule *profile.Rule, m []string, ev ir.RawEvent, line string, mem Memory) (ir.Fact, error) {
	bindings := make(map[string]string)
	for i, name := range rule.Pattern.SubexpNames() {
		if name != "" && m[i] != "" {
			bindings[name] = m[i]
		}
	}
	if _, ok := bindings[profile.OwnerField]; !ok && ev.Subject != "" {
		bindings[profile.OwnerField] = ev.Subject
	}

	ts := ev.ReceivedAt.In(p.loc)
	if raw, ok := bindings[profile.TimestampGroup]; ok {
		parsed, err := time.ParseInLocation(ir.StampLayout, raw, p.loc)
		if err != nil {
			return ir.Fact{}, fmt.Errorf("timestamp %q: %w", raw, err)
		}
		ts = parsed
	}

	for _, d := range rule.Decode {
		raw, ok := bindings[d.From]
		if !ok {
			continue
		}
		val, err := decodeField(d.Format, raw, d.Path)
		if err != nil {
			return ir.Fact{}, fmt.Errorf("decode %s: %w", d.From, err)
		}
		if _, exists := bindings[d.As]; !exists || d.As == d.From {
			bindings[d.As] = val
		}
	}

	var counts map[string]int64
	for _, n := range rule.Numbers {
		raw, ok := bindings[n]
		if !ok {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return ir.Fact{}, fmt.Errorf("number %s: %w", n, err)
		}
		if counts == nil {
			counts = make(map[string]int64)
		}
		counts[n] = v
	}

	var mismatches []ir.FieldMismatch
	if rule.Mismatches != "" {
		var err error
		mismatches, err = parseMismatches(bindings[rule.Mismatches])
		if err != nil {
			return ir.Fact{}, err
		}
		for _, mm := range mismatches {
			field, ok := profile.MismatchFields[mm.Field]
			if !ok {
				continue
			}
			if _, exists := bindings[field]; !exists {
				bindings[field] = mm.Expected
			}
		}
	}

	if mem != nil {
		for _, n := range rule.Recall {
			if _, ok := bindings[n]; ok {
				continue
			}
			if v, ok := mem.Recall(n); ok {
				bindings[n] = v
			}
		}
		for _, n := range rule.Remember {
			if v, ok := bindings[n]; ok {
				mem.Remember(n, v)
			}
		}
	}

	stamp, content := splitStamp(line)
	f := ir.Fact{
		Kind:       rule.Kind,
		Rule:       rule.Name,
		Topic:      ev.Topic,
		Subject:    ev.Subject,
		Raw:        line,
		Stamp:      stamp,
		Content:    content,
		Timestamp:  ts,
		Scope:      rule.Scope,
		MatchKeys:  resolveKeys(rule.Keys, bindings),
		Bindings:   bindings,
		Counts:     counts,
		Mismatches: mismatches,
		Status:     rule.Status,
		Notice:     rule.Notice,
		Set:        rule.Set,
	}
	if rule.Verify != nil {
		v := *rule.Verify
		f.Verify = &v
	}
	return f, nil
}

// unknown builds the fact recorded for a line no rule could use.
func (p *Parser) unknown(ev ir.RawEvent, line string) ir.Fact {
	stamp, content := splitStamp(line)
	return ir.Fact{
		Kind:      ir.KindUnknown,
		Topic:     ev.Topic,
		Subject:   ev.Subject,
		Raw:       line,
		Stamp:     stamp,
		Content:   content,
		Timestamp: ev.ReceivedAt.In(p.loc),
	}
}

// resolveKeys binds key specs in priority order. A key set loses optional
// fields that are unbound and is dropped when a required field is unbound
// or nothing is left.
func resolveKeys(specs [][]profile.KeyField, bindings map[string]string) []ir.KeySet {
	var out []ir.KeySet
	for _, spec := range specs {
		ks := make(ir.KeySet, 0, len(spec))
		complete := true
		for _, kf := range spec {
			v, ok := bindings[kf.Name]
			if !ok {
				if kf.Optional {
					continue
				}
				complete = false
				break
			}
			ks = append(ks, ir.Binding{Field: kf.Name, Value: v})
		}
		if complete && len(ks) > 0 {
			out = append(out, ks)
		}
	}
	return out
}

// parseMismatches reads "field: expected 'A', found 'B'" items.
func parseMismatches(s string) ([]ir.FieldMismatch, error) {
	matches := mismatchPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("no field mismatches in %q", s)
	}
	out := make([]ir.FieldMismatch, len(matches))
	for i, m := range matches {
		out[i] = ir.FieldMismatch{Field: m[1], Expected: m[2], Found: m[3]}
	}
	return out, nil
}

// splitStamp separates a leading "[stamp] " from the rest of the line.
func splitStamp(line string) (stamp, content string) {
	if m := stampPattern.FindStringSubmatch(line); m != nil {
		return m[1], m[2]
	}
	return "", line
}
