package aggregator

import (
	"context"
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAggregateWeightsBySizeWeightedMean(t *testing.T) {
	f := NewFedAvg()
	f.Submit("camp1", Contribution{ClientID: "a", Weights: []float64{1, 1}, DataSize: 1})
	f.Submit("camp1", Contribution{ClientID: "b", Weights: []float64{3, 3}, DataSize: 3})

	merged, err := f.Aggregate(context.Background(), "camp1")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	want := 2.5 // (1*1 + 3*3) / 4
	for i, v := range merged {
		if !almostEqual(v, want) {
			t.Errorf("merged[%d] = %v, want %v", i, v, want)
		}
	}
}

func TestAggregateFailsWithNoContributions(t *testing.T) {
	f := NewFedAvg()
	if _, err := f.Aggregate(context.Background(), "empty"); err == nil {
		t.Fatal("expected error aggregating an empty round")
	}
}

func TestAggregateFailsOnWidthMismatch(t *testing.T) {
	f := NewFedAvg()
	f.Submit("camp1", Contribution{ClientID: "a", Weights: []float64{1, 1}, DataSize: 1})
	f.Submit("camp1", Contribution{ClientID: "b", Weights: []float64{1}, DataSize: 1})

	if _, err := f.Aggregate(context.Background(), "camp1"); err == nil {
		t.Fatal("expected error on weight-vector width mismatch")
	}
}

func TestAggregateClearsRoundBuffer(t *testing.T) {
	f := NewFedAvg()
	f.Submit("camp1", Contribution{ClientID: "a", Weights: []float64{1}, DataSize: 1})

	if _, err := f.Aggregate(context.Background(), "camp1"); err != nil {
		t.Fatalf("first aggregate: %v", err)
	}
	if _, err := f.Aggregate(context.Background(), "camp1"); err == nil {
		t.Fatal("expected second aggregate on a drained round to fail")
	}
}
