package cubestream

import (
	"context"
	"fmt"
)

// Strategy selects how a requested domain is executed.
type Strategy int

const (
	// StrategyAuto picks materialize or virtual by estimated size.
	StrategyAuto Strategy = iota

	// StrategyMaterialize loads the whole domain eagerly.
	StrategyMaterialize

	// StrategyVirtual keeps the cube lazy and tile-streamed.
	StrategyVirtual
)

// String returns the strategy name.
func (s Strategy) String() string {
	switch s {
	case StrategyAuto:
		return "auto"
	case StrategyMaterialize:
		return "materialize"
	case StrategyVirtual:
		return "virtual"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// DefaultMaxEagerBytes is the size above which ChooseStrategy prefers
// streaming.
const DefaultMaxEagerBytes int64 = 128 << 20

// Thresholds configures strategy selection.
type Thresholds struct {
	// MaxEagerBytes is the largest domain loaded eagerly under
	// StrategyAuto. Zero means DefaultMaxEagerBytes.
	MaxEagerBytes int64
}

// ChooseStrategy maps a domain's exact size estimate to an execution
// strategy. It is the single place size heuristics live.
func ChooseStrategy(d Domain, th Thresholds) Strategy {
	maxBytes := th.MaxEagerBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxEagerBytes
	}
	if d.EstimateBytes() > maxBytes {
		return StrategyVirtual
	}
	return StrategyMaterialize
}

// Open is the loader-facing entry point: given a configured VirtualCube
// and a strategy, it returns either the eager cube or the lazy one.
// StrategyAuto resolves through ChooseStrategy.
func Open(ctx context.Context, vc *VirtualCube, strategy Strategy, th Thresholds) (Dataset, error) {
	if err := vc.Domain().Validate(); err != nil {
		return nil, err
	}
	if strategy == StrategyAuto {
		strategy = ChooseStrategy(vc.Domain(), th)
	}
	switch strategy {
	case StrategyMaterialize:
		return vc.Materialize(ctx)
	case StrategyVirtual:
		return vc, nil
	default:
		return nil, &ConfigurationError{
			Field:  "strategy",
			Reason: fmt.Sprintf("unknown strategy %d", int(strategy)),
		}
	}
}
