package spread

import (
	"math"
	"testing"

	"pgregory.net/rapid"

	"github.com/arbibridge/spreadscan/timeframe"
)

func TestComputeScenarioOneTwoExchangesAligned(t *testing.T) {
	aligned := timeframe.Aligned{
		Timestamps: []int64{1000, 2000},
		PEIDs:      []int64{1, 2}, // 1=A, 2=B
		Closes: [][]float64{
			{100, 110},
			{102, 108},
		},
	}

	got, ok := Compute(aligned)
	if !ok {
		t.Fatal("expected a result")
	}
	if got.Time != 1000 {
		t.Fatalf("expected max bucket at t=1000, got %d", got.Time)
	}
	if got.HighPEID != 2 || got.LowPEID != 1 {
		t.Fatalf("expected high=B(2) low=A(1), got high=%d low=%d", got.HighPEID, got.LowPEID)
	}
	want := 1.980198
	if math.Abs(got.SpreadPercent-want) > 1e-3 {
		t.Fatalf("expected spread_percent ~= %.3f, got %.6f", want, got.SpreadPercent)
	}
}

func TestComputeTieBreaksToFirstInList(t *testing.T) {
	aligned := timeframe.Aligned{
		Timestamps: []int64{1000},
		PEIDs:      []int64{1, 2, 3},
		Closes: [][]float64{
			{100},
			{100},
			{90},
		},
	}
	got, ok := Compute(aligned)
	if !ok {
		t.Fatal("expected result")
	}
	if got.HighPEID != 1 {
		t.Fatalf("expected first-listed exchange to win the max tie, got %d", got.HighPEID)
	}
}

func TestComputeZeroSpreadWhenAllAgree(t *testing.T) {
	aligned := timeframe.Aligned{
		Timestamps: []int64{1000},
		PEIDs:      []int64{1, 2},
		Closes:     [][]float64{{100}, {100}},
	}
	got, ok := Compute(aligned)
	if !ok {
		t.Fatal("expected result")
	}
	if got.SpreadPercent != 0 {
		t.Fatalf("expected zero spread, got %f", got.SpreadPercent)
	}
	if got.HighPEID != got.LowPEID {
		t.Fatalf("expected high==low when all exchanges agree, got %d vs %d", got.HighPEID, got.LowPEID)
	}
}

func TestComputeEmptyAlignmentReturnsBottom(t *testing.T) {
	_, ok := Compute(timeframe.Aligned{})
	if ok {
		t.Fatal("expected no result for empty alignment")
	}
}

func TestComputePicksLargerPercentBucket(t *testing.T) {
	// scenario 2: misaligned timestamps already resolved upstream by Align;
	// here we verify the engine itself picks the larger-percent of two
	// candidate buckets rather than the first or last chronologically.
	aligned := timeframe.Aligned{
		Timestamps: []int64{2000, 3000},
		PEIDs:      []int64{1, 2},
		Closes: [][]float64{
			{100, 100},
			{99, 90},
		},
	}
	got, ok := Compute(aligned)
	if !ok {
		t.Fatal("expected result")
	}
	if got.Time != 3000 {
		t.Fatalf("expected larger-percent bucket at t=3000, got %d", got.Time)
	}
}

// TestComputeSpreadPercentNeverNegativeForAnyAlignment checks spec §8's
// invariant that spread_percent is always >= 0 regardless of how many
// exchanges or buckets are fed in, for randomly generated aligned inputs.
func TestComputeSpreadPercentNeverNegativeForAnyAlignment(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numExchanges := rapid.IntRange(2, 6).Draw(t, "numExchanges")
		numBuckets := rapid.IntRange(1, 8).Draw(t, "numBuckets")

		aligned := timeframe.Aligned{
			Timestamps: make([]int64, numBuckets),
			PEIDs:      make([]int64, numExchanges),
			Closes:     make([][]float64, numExchanges),
		}
		for j := 0; j < numBuckets; j++ {
			aligned.Timestamps[j] = int64(j)
		}
		for i := 0; i < numExchanges; i++ {
			aligned.PEIDs[i] = int64(i)
			row := make([]float64, numBuckets)
			for j := 0; j < numBuckets; j++ {
				row[j] = rapid.Float64Range(0.01, 1_000_000).Draw(t, "close")
			}
			aligned.Closes[i] = row
		}

		got, ok := Compute(aligned)
		if !ok {
			t.Fatal("expected a result for a non-empty alignment")
		}
		if got.SpreadPercent < 0 {
			t.Fatalf("spread_percent went negative: %f", got.SpreadPercent)
		}
		if got.HighPEID == got.LowPEID && got.SpreadPercent != 0 {
			t.Fatalf("high==low but spread_percent != 0: %f", got.SpreadPercent)
		}
	})
}
