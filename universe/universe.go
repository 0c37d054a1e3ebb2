// Package universe is the Universe Builder (spec §4.2): it turns the
// per-exchange symbol listings from the exchange gateway into the set of
// pairs backed by at least a threshold number of exchanges.
package universe

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emirpasic/gods/maps/treemap"
	godsutils "github.com/emirpasic/gods/utils"

	"github.com/arbibridge/spreadscan/exchange"
	"github.com/arbibridge/spreadscan/internal/config"
)

// Pair is one arbitrable pair together with its supporting exchanges.
type Pair struct {
	Name      string
	Exchanges []config.Exchange
}

// Build computes the pair x exchange presence matrix from listings and
// keeps only pairs supported by at least threshold exchanges. Pair
// ordering is sorted by name so the result is deterministic across runs
// (spec §4.2); exchange ordering within a pair follows the order
// `listings` was supplied in, which callers should keep stable across
// runs for the spread engine's tie-break rule (spec §4.8).
func Build(listings []exchange.ExchangeMarkets, threshold int) []Pair {
	// presence records every pair name seen; a treemap keeps pair names
	// sorted as they're inserted so the final projection needs no secondary
	// sort pass. order[pairName] is the ordered list of exchanges backing it.
	presence := treemap.NewWith(godsutils.StringComparator)
	order := make(map[string][]config.Exchange)

	for _, listing := range listings {
		set := mapset.NewThreadUnsafeSet(listing.Symbols...)
		set.Each(func(symbol string) bool {
			if _, found := presence.Get(symbol); !found {
				presence.Put(symbol, struct{}{})
			}
			order[symbol] = append(order[symbol], listing.Exchange)
			return false
		})
	}

	var out []Pair
	for _, k := range presence.Keys() {
		name := k.(string)
		exs := order[name]
		if len(exs) < threshold {
			continue
		}
		out = append(out, Pair{Name: name, Exchanges: exs})
	}
	return out
}
