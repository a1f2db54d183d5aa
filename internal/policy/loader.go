package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/davidahmann/attest/internal/crypto"
	"github.com/davidahmann/attest/internal/expr"
	"github.com/davidahmann/attest/pkg/types"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFor picks the unit file format from its extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

type UnitSpec struct {
	ID              string     `yaml:"id" json:"id"`
	Name            string     `yaml:"name" json:"name"`
	Description     string     `yaml:"description" json:"description"`
	RequiredEffects []string   `yaml:"required_effects" json:"required_effects"`
	Rules           []RuleSpec `yaml:"rules" json:"rules"`
	Wiring          WiringSpec `yaml:"wiring" json:"wiring"`
}

type RuleSpec struct {
	ID          string `yaml:"id" json:"id"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description"`
	// Requires entries are dotted strings or lists of path segments.
	Requires  []any `yaml:"requires" json:"requires"`
	Condition any   `yaml:"condition" json:"condition"`
}

type WiringSpec struct {
	Type      string    `yaml:"type" json:"type"`
	Rules     []string  `yaml:"rules" json:"rules"`
	Policies  []string  `yaml:"policies" json:"policies"`
	Weights   []float64 `yaml:"weights" json:"weights"`
	Threshold float64   `yaml:"threshold" json:"threshold"`
}

type LoadedUnit struct {
	Unit  Unit
	Path  string
	Bytes []byte
}

// LoadUnit reads one unit spec file. The unit hash is computed from the parsed
// model, not the file bytes, so formatting changes do not alter it.
func LoadUnit(path string) (LoadedUnit, error) {
	format, err := FormatFor(path)
	if err != nil {
		return LoadedUnit{}, err
	}
	// #nosec G304 -- path comes from operator-configured units directory.
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadedUnit{}, err
	}
	u, err := ParseUnit(data, format)
	if err != nil {
		return LoadedUnit{}, fmt.Errorf("%s: %w", path, err)
	}
	return LoadedUnit{Unit: u, Path: path, Bytes: data}, nil
}

func ParseUnit(data []byte, format Format) (Unit, error) {
	var spec UnitSpec
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&spec); err != nil {
			return Unit{}, fmt.Errorf("%w: %v", ErrInvalidUnit, err)
		}
	case FormatJSON:
		// strict pass rejects duplicate keys and trailing data
		if _, err := crypto.DecodeJSON(data); err != nil {
			return Unit{}, fmt.Errorf("%w: %v", ErrInvalidUnit, err)
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		dec.DisallowUnknownFields()
		if err := dec.Decode(&spec); err != nil {
			return Unit{}, fmt.Errorf("%w: %v", ErrInvalidUnit, err)
		}
	default:
		return Unit{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return spec.Build()
}

// Build converts a decoded spec into a validated unit.
func (s UnitSpec) Build() (Unit, error) {
	b := NewUnit(s.ID).Name(s.Name).Description(s.Description)
	for _, raw := range s.RequiredEffects {
		e, err := types.ParseEffect(raw)
		if err != nil {
			return Unit{}, fmt.Errorf("%w: %v", ErrInvalidUnit, err)
		}
		b.RequireEffects(e)
	}
	for i, rs := range s.Rules {
		r, err := rs.build()
		if err != nil {
			return Unit{}, fmt.Errorf("rule %d (%s): %w", i, rs.ID, err)
		}
		b.Rule(r)
	}
	w, err := s.Wiring.build(s.Rules)
	if err != nil {
		return Unit{}, err
	}
	b.Wiring(w)
	return b.Build()
}

func (s RuleSpec) build() (Rule, error) {
	if s.Condition == nil {
		return Rule{}, fmt.Errorf("%w: missing condition", ErrInvalidUnit)
	}
	cond, err := expr.Decode(s.Condition)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %v", ErrInvalidUnit, err)
	}
	title := s.Title
	if title == "" {
		title = s.Description
	}
	r := Rule{ID: s.ID, Title: title, Condition: cond}
	for _, req := range s.Requires {
		path, err := requiredPath(req)
		if err != nil {
			return Rule{}, err
		}
		r.RequiredFields = append(r.RequiredFields, path)
	}
	return r, nil
}

func requiredPath(v any) ([]string, error) {
	switch p := v.(type) {
	case string:
		if p == "" {
			return nil, fmt.Errorf("%w: empty required field", ErrInvalidUnit)
		}
		return strings.Split(p, "."), nil
	case []any:
		out := make([]string, 0, len(p))
		for _, seg := range p {
			s, ok := seg.(string)
			if !ok || s == "" {
				return nil, fmt.Errorf("%w: required field segments must be non-empty strings", ErrInvalidUnit)
			}
			out = append(out, s)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("%w: empty required field", ErrInvalidUnit)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: required field must be a string or list", ErrInvalidUnit)
	}
}

// An absent wiring defaults to all over the declared rules.
func (s WiringSpec) build(rules []RuleSpec) (Wiring, error) {
	kind := WiringKind(strings.ToLower(s.Type))
	if kind == "" {
		kind = WiringAll
	}
	if !kind.Valid() {
		return Wiring{}, fmt.Errorf("%w: %q", ErrUnknownWiring, s.Type)
	}
	ids := s.Rules
	if len(ids) == 0 {
		ids = s.Policies
	}
	if len(ids) == 0 {
		for _, r := range rules {
			ids = append(ids, r.ID)
		}
	}
	return Wiring{Kind: kind, Rules: ids, Weights: s.Weights, Threshold: s.Threshold}, nil
}

// LoadDir loads every .yaml, .yml and .json file in dir, in name order. A
// missing directory yields no units.
func LoadDir(dir string) ([]LoadedUnit, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := FormatFor(e.Name()); err != nil {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]LoadedUnit, 0, len(names))
	seen := map[string]string{}
	for _, name := range names {
		lu, err := LoadUnit(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[lu.Unit.ID]; dup {
			return nil, fmt.Errorf("%w: %q in %s and %s", ErrDuplicateUnit, lu.Unit.ID, prev, name)
		}
		seen[lu.Unit.ID] = name
		out = append(out, lu)
	}
	return out, nil
}

func Units(loaded []LoadedUnit) []Unit {
	out := make([]Unit, len(loaded))
	for i, lu := range loaded {
		out[i] = lu.Unit
	}
	return out
}
