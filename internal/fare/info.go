package fare

import "slices"

// CompanyFare is the best known fare vector of one company label.
type CompanyFare struct {
	Company  string      `json:"company"`
	Code     string      `json:"code"`
	Prices   PriceVector `json:"prices"`
	MinPrice Price       `json:"min_price"`
}

// SearchInfo is the aggregate fare summary of a search: the best total per
// stop count and the per-company fares sorted ascending by MinPrice.
type SearchInfo struct {
	Prices    PriceVector   `json:"prices"`
	ByCompany []CompanyFare `json:"by_company"`
}

// Default returns the summary reported when no price was found: every total
// is NotFound and the company list is empty.
func Default() *SearchInfo {
	return &SearchInfo{
		Prices:    NotFoundVector(),
		ByCompany: []CompanyFare{},
	}
}

// Clone returns a copy of s that shares no memory with it.
func (s *SearchInfo) Clone() *SearchInfo {
	if s == nil {
		return nil
	}
	return &SearchInfo{
		Prices:    s.Prices,
		ByCompany: slices.Clone(s.ByCompany),
	}
}

// Company returns the fare stored for the exact company label.
func (s *SearchInfo) Company(label string) (CompanyFare, bool) {
	i := slices.IndexFunc(s.ByCompany, func(c CompanyFare) bool { return c.Company == label })
	if i < 0 {
		return CompanyFare{}, false
	}
	return s.ByCompany[i], true
}
