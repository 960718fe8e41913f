package selector

import (
	"context"
	"testing"

	"github.com/fedcoord/coordinator/internal/registry"
)

func TestSelectReturnsRequestedCountOfWaitingClients(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		if err := reg.Accept(ctx, "camp1", id); err != nil {
			t.Fatalf("accept: %v", err)
		}
	}

	sel := NewRendezvousSelector(reg, func() uint32 { return 0 })
	got, err := sel.Select(ctx, "camp1", 2)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].ID == got[1].ID {
		t.Fatalf("expected distinct candidates, got %v", got)
	}
}

func TestSelectIsDeterministicForTheSameRound(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		reg.Accept(ctx, "camp1", id)
	}

	sel := NewRendezvousSelector(reg, func() uint32 { return 5 })
	first, err := sel.Select(ctx, "camp1", 2)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	second, err := sel.Select(ctx, "camp1", 2)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("selection not stable across calls: %v vs %v", first, second)
		}
	}
}

func TestSelectReturnsNothingForNonPositiveN(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	sel := NewRendezvousSelector(reg, func() uint32 { return 0 })
	got, err := sel.Select(context.Background(), "camp1", 0)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no candidates, got %v", got)
	}
}
