package engine

import (
	"fmt"

	"github.com/davidahmann/attest/internal/expr"
	"github.com/davidahmann/attest/internal/policy"
	"github.com/davidahmann/attest/pkg/types"
)

// EffectPermittedFunc lets conditions ask whether the execution mode permits
// an effect, optionally for a target:
//
//	effect_permitted("network", "api.example.com")
const EffectPermittedFunc = "effect_permitted"

// bindMode exposes m to conditions when ev is the expr evaluator. Custom
// evaluators are used as given.
func bindMode(ev policy.Evaluator, m types.Mode) policy.Evaluator {
	base, ok := ev.(*expr.Evaluator)
	if !ok {
		return ev
	}
	return base.With(EffectPermittedFunc, effectPermitted(m))
}

func effectPermitted(m types.Mode) expr.Func {
	return func(args []any) (any, error) {
		if len(args) == 0 || len(args) > 2 {
			return nil, fmt.Errorf("%s: expected 1 or 2 arguments, got %d", EffectPermittedFunc, len(args))
		}
		name, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("%s: effect must be a string", EffectPermittedFunc)
		}
		effect, err := types.ParseEffect(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EffectPermittedFunc, err)
		}
		target := ""
		if len(args) == 2 {
			if target, ok = args[1].(string); !ok {
				return nil, fmt.Errorf("%s: target must be a string", EffectPermittedFunc)
			}
		}
		return m.Permits(effect, target), nil
	}
}
