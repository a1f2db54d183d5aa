package types

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

type Effect string

const (
	EffectRead       Effect = "read"
	EffectWrite      Effect = "write"
	EffectNetwork    Effect = "network"
	EffectFilesystem Effect = "filesystem"
	EffectProcess    Effect = "process"
	EffectWASM       Effect = "wasm"
)

var knownEffects = []Effect{EffectRead, EffectWrite, EffectNetwork, EffectFilesystem, EffectProcess, EffectWASM}

// ParseEffect accepts an effect name in any case.
func ParseEffect(s string) (Effect, error) {
	e := Effect(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(knownEffects, e) {
		return "", fmt.Errorf("unknown effect: %q", s)
	}
	return e, nil
}

// Scope restricts an effect to targets matching Allow and not matching Deny.
type Scope struct {
	Allow []string `json:"allow" yaml:"allow"`
	Deny  []string `json:"deny" yaml:"deny"`
}

func (s Scope) Permits(target string) bool {
	for _, pattern := range s.Deny {
		if matchGlob(pattern, target) {
			return false
		}
	}
	for _, pattern := range s.Allow {
		if matchGlob(pattern, target) {
			return true
		}
	}
	return false
}

func matchGlob(pattern, target string) bool {
	ok, err := doublestar.Match(pattern, target)
	return err == nil && ok
}

// Mode is the per-execution capability envelope.
type Mode struct {
	Effects     []Effect         `json:"effects" yaml:"effects"`
	Scopes      map[Effect]Scope `json:"scopes,omitempty" yaml:"scopes"`
	ActiveRules []string         `json:"active_rules,omitempty" yaml:"active_rules"`
}

// Conservative enables only reads.
func Conservative() Mode {
	return Mode{Effects: []Effect{EffectRead}}
}

// Clone returns a deep copy that shares no slices or maps with m.
func (m Mode) Clone() Mode {
	out := Mode{
		Effects:     slices.Clone(m.Effects),
		ActiveRules: slices.Clone(m.ActiveRules),
	}
	if m.Scopes != nil {
		out.Scopes = make(map[Effect]Scope, len(m.Scopes))
		for e, s := range m.Scopes {
			out.Scopes[e] = Scope{Allow: slices.Clone(s.Allow), Deny: slices.Clone(s.Deny)}
		}
	}
	return out
}

func (m Mode) Allows(e Effect) bool {
	return slices.Contains(m.Effects, e)
}

func (m Mode) AllowsAll(required []Effect) bool {
	return len(m.Missing(required)) == 0
}

// Missing lists the required effects the mode does not enable.
func (m Mode) Missing(required []Effect) []Effect {
	var out []Effect
	for _, e := range required {
		if !m.Allows(e) {
			out = append(out, e)
		}
	}
	return out
}

// IsRuleActive reports whether ruleID passes the whitelist. An empty whitelist activates every rule.
func (m Mode) IsRuleActive(ruleID string) bool {
	return len(m.ActiveRules) == 0 || slices.Contains(m.ActiveRules, ruleID)
}

// Permits checks an effect against a concrete target. An empty target only checks enablement.
func (m Mode) Permits(e Effect, target string) bool {
	if !m.Allows(e) {
		return false
	}
	if target == "" {
		return true
	}
	if scope, ok := m.Scopes[e]; ok {
		return scope.Permits(target)
	}
	return true
}

func (m Mode) IsPublicSafe() bool {
	return !m.Allows(EffectProcess) && !m.Allows(EffectWASM)
}

func (m Mode) Validate() error {
	for _, e := range m.Effects {
		if !slices.Contains(knownEffects, e) {
			return fmt.Errorf("unknown effect: %q", e)
		}
	}
	for e, scope := range m.Scopes {
		if !slices.Contains(knownEffects, e) {
			return fmt.Errorf("unknown scope effect: %q", e)
		}
		for _, pattern := range append(slices.Clone(scope.Allow), scope.Deny...) {
			if !doublestar.ValidatePattern(pattern) {
				return fmt.Errorf("invalid %s scope pattern: %q", e, pattern)
			}
		}
	}
	return nil
}
