// Package spread is the Spread Engine (spec §4.8): given one pair's
// aligned candle series, it finds the bucket with the largest
// cross-exchange spread percentage.
package spread

import "github.com/arbibridge/spreadscan/timeframe"

// Result is the engine's output for one pair at its maximum bucket.
type Result struct {
	Time          int64
	HighPEID      int64
	LowPEID       int64
	SpreadPercent float64
}

// Compute scans every aligned bucket and returns the one with the
// largest spread_pct. Ties among exchanges at a single bucket resolve to
// whichever appears first in aligned.PEIDs (spec §4.8); ties across
// buckets are not addressed by the spec and are resolved to the first
// bucket encountered, which is deterministic given a stable input order.
//
// Returns (Result{}, false) for an empty alignment — the bottom value;
// no persistence should occur in that case.
func Compute(aligned timeframe.Aligned) (Result, bool) {
	if len(aligned.Timestamps) == 0 {
		return Result{}, false
	}

	var best Result
	haveBest := false

	for j, ts := range aligned.Timestamps {
		highIdx, lowIdx := 0, 0
		for i := 1; i < len(aligned.Closes); i++ {
			if aligned.Closes[i][j] > aligned.Closes[highIdx][j] {
				highIdx = i
			}
			if aligned.Closes[i][j] < aligned.Closes[lowIdx][j] {
				lowIdx = i
			}
		}

		maxClose := aligned.Closes[highIdx][j]
		minClose := aligned.Closes[lowIdx][j]
		mid := (maxClose + minClose) / 2
		var pct float64
		if mid > 0 {
			pct = (maxClose - minClose) / mid * 100
		}

		if !haveBest || pct > best.SpreadPercent {
			best = Result{
				Time:          ts,
				HighPEID:      aligned.PEIDs[highIdx],
				LowPEID:       aligned.PEIDs[lowIdx],
				SpreadPercent: pct,
			}
			haveBest = true
		}
	}

	return best, haveBest
}
