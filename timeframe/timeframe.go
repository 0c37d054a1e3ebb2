// Package timeframe is the Timeframe Synchronizer (spec §4.7): it aligns
// one pair's per-exchange candle series onto the intersection of their
// timestamps, in preparation for the spread engine.
package timeframe

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/arbibridge/spreadscan/exchange"
)

// Series is one PE's candle series together with its identifier.
type Series struct {
	PEID    int64
	Candles []exchange.Candle
}

// Aligned is the intersection output: for every common timestamp, one
// row per still-participating series, in the same order Series were
// supplied — the ordering the spread engine's tie-break rule depends on
// (spec §4.8).
type Aligned struct {
	Timestamps []int64
	PEIDs      []int64
	// Closes[i][j] is series i's close price at Timestamps[j].
	Closes [][]float64
}

// Align intersects the timestamp sets of every series and projects each
// surviving series onto that common index. Only close prices are carried
// into Aligned; open, high, low and volume are not part of the output.
// A series containing a corrupted row (detected upstream — wrong arity
// never reaches this type, so here "corrupt" means a non-finite open,
// high, low, close or volume) is dropped entirely rather than partially
// included (spec §4.7).
func Align(series []Series) Aligned {
	valid := make([]Series, 0, len(series))
	for _, s := range series {
		if seriesIsClean(s.Candles) {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		return Aligned{}
	}

	common := mapset.NewThreadUnsafeSet[int64]()
	for _, c := range valid[0].Candles {
		common.Add(c.Timestamp)
	}
	for _, s := range valid[1:] {
		next := mapset.NewThreadUnsafeSet[int64]()
		for _, c := range s.Candles {
			next.Add(c.Timestamp)
		}
		common = common.Intersect(next)
	}
	if common.Cardinality() == 0 {
		return Aligned{}
	}

	timestamps := common.ToSlice()
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })

	peIDs := make([]int64, len(valid))
	closesByTs := make([]map[int64]float64, len(valid))
	for i, s := range valid {
		peIDs[i] = s.PEID
		m := make(map[int64]float64, len(s.Candles))
		for _, c := range s.Candles {
			m[c.Timestamp] = c.Close
		}
		closesByTs[i] = m
	}

	closes := make([][]float64, len(valid))
	for i := range valid {
		row := make([]float64, len(timestamps))
		for j, ts := range timestamps {
			row[j] = closesByTs[i][ts]
		}
		closes[i] = row
	}

	return Aligned{Timestamps: timestamps, PEIDs: peIDs, Closes: closes}
}

func seriesIsClean(candles []exchange.Candle) bool {
	for _, c := range candles {
		if isNonFinite(c.Open) || isNonFinite(c.High) || isNonFinite(c.Low) || isNonFinite(c.Close) || isNonFinite(c.Volume) {
			return false
		}
	}
	return true
}

func isNonFinite(f float64) bool {
	return f != f || f > maxFinite || f < -maxFinite
}

const maxFinite = 1.7976931348623157e+308
