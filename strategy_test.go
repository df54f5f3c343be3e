package cubestream

import (
	"context"
	"testing"
)

func TestChooseStrategyThreshold(t *testing.T) {
	small := testDomain(10, 4, 4)       // 1280 bytes
	large := testDomain(1000, 100, 100) // 80 MB

	cases := []struct {
		name string
		d    Domain
		th   Thresholds
		want Strategy
	}{
		{"small fits default", small, Thresholds{}, StrategyMaterialize},
		{"large fits default", large, Thresholds{}, StrategyMaterialize},
		{"large over custom limit", large, Thresholds{MaxEagerBytes: 1 << 20}, StrategyVirtual},
		{"small over tiny limit", small, Thresholds{MaxEagerBytes: 100}, StrategyVirtual},
	}
	for _, c := range cases {
		if got := ChooseStrategy(c.d, c.th); got != c.want {
			t.Errorf("%s: expected %s, got %s", c.name, c.want, got)
		}
	}
}

func TestOpenResolvesAuto(t *testing.T) {
	ctx := context.Background()
	d := testDomain(10, 4, 4)
	fetcher := gridFetcher(func(ts, _, _ int) float64 { return float64(ts) })

	eager, err := Open(ctx, NewVirtualCube(d, fetcher), StrategyAuto, Thresholds{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := eager.(*Cube); !ok {
		t.Errorf("expected small domain to open eagerly, got %T", eager)
	}

	lazy, err := Open(ctx, NewVirtualCube(d, fetcher), StrategyAuto, Thresholds{MaxEagerBytes: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := lazy.(*VirtualCube); !ok {
		t.Errorf("expected over-threshold domain to stay virtual, got %T", lazy)
	}
}

func TestOpenExplicitStrategy(t *testing.T) {
	ctx := context.Background()
	d := testDomain(10, 4, 4)
	fetcher := gridFetcher(func(_, _, _ int) float64 { return 1 })

	lazy, err := Open(ctx, NewVirtualCube(d, fetcher), StrategyVirtual, Thresholds{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := lazy.(*VirtualCube); !ok {
		t.Errorf("expected StrategyVirtual to return a VirtualCube, got %T", lazy)
	}

	eager, err := Open(ctx, NewVirtualCube(d, fetcher), StrategyMaterialize, Thresholds{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := eager.(*Cube); !ok {
		t.Errorf("expected StrategyMaterialize to return a Cube, got %T", eager)
	}
}
