package fare

import (
	"cmp"
	"slices"
)

// MergeCompanyFares folds incoming company vectors into info.
//
// Each incoming label replaces the CompanyFare stored under the same exact
// label. The new vector is the slot-wise MinPrice of the incoming vector and
// the previous one (all NotFound when the label is new). Codes come from
// ResolveCode. The company list is then sorted ascending by MinPrice,
// keeping insertion order on ties.
func MergeCompanyFares(info *SearchInfo, incoming CompanyPrices, airlines Airlines) {
	for _, in := range incoming {
		previous := NotFoundVector()
		i := slices.IndexFunc(info.ByCompany, func(c CompanyFare) bool { return c.Company == in.Company })
		if i >= 0 {
			previous = info.ByCompany[i].Prices
			info.ByCompany = slices.Delete(info.ByCompany, i, i+1)
		}

		var merged PriceVector
		for s := range merged {
			merged[s] = MinPrice(in.Prices[s], previous[s])
		}

		info.ByCompany = append(info.ByCompany, CompanyFare{
			Company:  in.Company,
			Code:     ResolveCode(airlines, in.Company),
			Prices:   merged,
			MinPrice: merged.Min(),
		})
	}

	slices.SortStableFunc(info.ByCompany, func(a, b CompanyFare) int {
		return cmp.Compare(a.MinPrice, b.MinPrice)
	})
}

// MergeTotalPrices folds the cheapest itinerary per stop budget into
// info.Prices.
//
// For a one-way search the candidate for s stops is departure[s]. Otherwise it
// is the cheapest departure+return pair where one leg has exactly s stops and
// the other at most s, skipping pairs with an unset leg.
func MergeTotalPrices(info *SearchInfo, departure, ret PriceVector, oneWay bool) {
	for stops := range Stops {
		candidate := Unset

		if oneWay {
			candidate = departure[stops]
		} else {
			for i := 0; i <= stops; i++ {
				if departure[stops] > 0 && ret[i] > 0 {
					candidate = MinPrice(candidate, departure[stops]+ret[i])
				}
				if departure[i] > 0 && ret[stops] > 0 {
					candidate = MinPrice(candidate, departure[i]+ret[stops])
				}
			}
		}

		info.Prices[stops] = MinPrice(info.Prices[stops], candidate)
	}
}

// MergeInfo folds src into dst: totals slot by slot and companies through
// MergeCompanyFares.
func MergeInfo(dst, src *SearchInfo, airlines Airlines) {
	if src == nil {
		return
	}
	for s := range dst.Prices {
		dst.Prices[s] = MinPrice(dst.Prices[s], src.Prices[s])
	}

	incoming := make(CompanyPrices, 0, len(src.ByCompany))
	for _, c := range src.ByCompany {
		incoming = append(incoming, CompanyPrice{Company: c.Company, Prices: c.Prices})
	}
	MergeCompanyFares(dst, incoming, airlines)
}
