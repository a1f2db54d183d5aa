package policy

import (
	"fmt"
	"slices"
	"strings"

	"github.com/davidahmann/attest/internal/crypto"
	"github.com/davidahmann/attest/internal/expr"
	"github.com/davidahmann/attest/pkg/types"
)

type WiringKind string

const (
	WiringAll        WiringKind = "all"
	WiringAny        WiringKind = "any"
	WiringSequential WiringKind = "sequential"
	WiringMajority   WiringKind = "majority"
	WiringWeighted   WiringKind = "weighted"
)

func (k WiringKind) Valid() bool {
	switch k {
	case WiringAll, WiringAny, WiringSequential, WiringMajority, WiringWeighted:
		return true
	default:
		return false
	}
}

// Wiring names the rules that participate in aggregation and how they combine.
// Weights and Threshold are only used by WiringWeighted.
type Wiring struct {
	Kind      WiringKind
	Rules     []string
	Weights   []float64
	Threshold float64
}

func All(ids ...string) Wiring        { return Wiring{Kind: WiringAll, Rules: ids} }
func Any(ids ...string) Wiring        { return Wiring{Kind: WiringAny, Rules: ids} }
func Sequential(ids ...string) Wiring { return Wiring{Kind: WiringSequential, Rules: ids} }
func Majority(ids ...string) Wiring   { return Wiring{Kind: WiringMajority, Rules: ids} }

func Weighted(ids []string, weights []float64, threshold float64) Wiring {
	return Wiring{Kind: WiringWeighted, Rules: ids, Weights: weights, Threshold: threshold}
}

// Rule is a pure predicate over the input. RequiredFields are key paths that
// must be present before the condition is evaluated.
type Rule struct {
	ID             string
	Title          string
	Hash           string
	Condition      expr.Expr
	RequiredFields [][]string
}

// NewRule builds a rule; requires are dotted paths such as "user.id".
func NewRule(id string, condition expr.Expr, requires ...string) Rule {
	r := Rule{ID: id, Condition: condition}
	for _, path := range requires {
		r.RequiredFields = append(r.RequiredFields, strings.Split(path, "."))
	}
	return r
}

func (r Rule) WithTitle(title string) Rule {
	r.Title = title
	return r
}

// Unit is a named, immutable composition of rules.
type Unit struct {
	ID              string
	Name            string
	Description     string
	Rules           []Rule
	Wiring          Wiring
	RequiredEffects []types.Effect
	Hash            string
}

func (u Unit) RuleIDs() []string {
	out := make([]string, len(u.Rules))
	for i, r := range u.Rules {
		out[i] = r.ID
	}
	return out
}

type Builder struct {
	unit Unit
}

func NewUnit(id string) *Builder {
	return &Builder{unit: Unit{ID: id, Wiring: Wiring{Kind: WiringAll}}}
}

func (b *Builder) Name(name string) *Builder {
	b.unit.Name = name
	return b
}

func (b *Builder) Description(d string) *Builder {
	b.unit.Description = d
	return b
}

func (b *Builder) Rule(r Rule) *Builder {
	b.unit.Rules = append(b.unit.Rules, r)
	return b
}

func (b *Builder) Wiring(w Wiring) *Builder {
	b.unit.Wiring = w
	return b
}

func (b *Builder) RequireEffects(effects ...types.Effect) *Builder {
	b.unit.RequiredEffects = append(b.unit.RequiredEffects, effects...)
	return b
}

// Build validates the unit, fills rule and unit hashes, and returns a copy
// that shares no slices with the builder.
func (b *Builder) Build() (Unit, error) {
	u := cloneUnit(b.unit)
	if u.ID == "" {
		return Unit{}, fmt.Errorf("%w: missing id", ErrInvalidUnit)
	}
	if !u.Wiring.Kind.Valid() {
		return Unit{}, fmt.Errorf("%w: %q", ErrUnknownWiring, u.Wiring.Kind)
	}
	seen := map[string]struct{}{}
	for i := range u.Rules {
		r := &u.Rules[i]
		if r.ID == "" {
			return Unit{}, fmt.Errorf("%w: rule %d has no id", ErrInvalidUnit, i)
		}
		if _, dup := seen[r.ID]; dup {
			return Unit{}, fmt.Errorf("%w: duplicate rule id %q", ErrInvalidUnit, r.ID)
		}
		seen[r.ID] = struct{}{}
		if err := expr.Validate(r.Condition, expr.DefaultMaxDepth); err != nil {
			return Unit{}, fmt.Errorf("%w: rule %q: %v", ErrInvalidUnit, r.ID, err)
		}
		for _, path := range r.RequiredFields {
			if len(path) == 0 {
				return Unit{}, fmt.Errorf("%w: rule %q has an empty required field", ErrInvalidUnit, r.ID)
			}
		}
		if r.Hash == "" {
			h, err := crypto.CIDOfJSON(ruleDocument(*r))
			if err != nil {
				return Unit{}, fmt.Errorf("%w: rule %q: %v", ErrInvalidUnit, r.ID, err)
			}
			r.Hash = h
		}
	}
	if len(u.Wiring.Rules) == 0 {
		u.Wiring.Rules = u.RuleIDs()
	}
	for _, e := range u.RequiredEffects {
		if _, err := types.ParseEffect(string(e)); err != nil {
			return Unit{}, fmt.Errorf("%w: %v", ErrInvalidUnit, err)
		}
	}
	if u.Hash == "" {
		h, err := crypto.CIDOfJSON(Document(u))
		if err != nil {
			return Unit{}, fmt.Errorf("%w: %v", ErrInvalidUnit, err)
		}
		u.Hash = h
	}
	return u, nil
}

func cloneUnit(u Unit) Unit {
	out := u
	out.Rules = make([]Rule, len(u.Rules))
	for i, r := range u.Rules {
		r.RequiredFields = slices.Clone(r.RequiredFields)
		for j := range r.RequiredFields {
			r.RequiredFields[j] = slices.Clone(r.RequiredFields[j])
		}
		out.Rules[i] = r
	}
	out.Wiring.Rules = slices.Clone(u.Wiring.Rules)
	out.Wiring.Weights = slices.Clone(u.Wiring.Weights)
	out.RequiredEffects = slices.Clone(u.RequiredEffects)
	return out
}

// Document renders the unit in its spec-file form. Unit hashes are the CID of
// this document.
func Document(u Unit) map[string]any {
	rules := make([]any, len(u.Rules))
	for i, r := range u.Rules {
		rules[i] = ruleDocument(r)
	}
	wiring := map[string]any{
		"type":  string(u.Wiring.Kind),
		"rules": stringsToAny(u.Wiring.Rules),
	}
	if u.Wiring.Kind == WiringWeighted {
		weights := make([]any, len(u.Wiring.Weights))
		for i, w := range u.Wiring.Weights {
			weights[i] = w
		}
		wiring["weights"] = weights
		wiring["threshold"] = u.Wiring.Threshold
	}
	effects := make([]any, len(u.RequiredEffects))
	for i, e := range u.RequiredEffects {
		effects[i] = string(e)
	}
	doc := map[string]any{
		"id":               u.ID,
		"rules":            rules,
		"wiring":           wiring,
		"required_effects": effects,
	}
	if u.Name != "" {
		doc["name"] = u.Name
	}
	if u.Description != "" {
		doc["description"] = u.Description
	}
	return doc
}

func ruleDocument(r Rule) map[string]any {
	requires := make([]any, len(r.RequiredFields))
	for i, path := range r.RequiredFields {
		requires[i] = stringsToAny(path)
	}
	doc := map[string]any{
		"id":        r.ID,
		"condition": expr.Encode(r.Condition),
		"requires":  requires,
	}
	if r.Title != "" {
		doc["title"] = r.Title
	}
	return doc
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
