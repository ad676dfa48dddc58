package handler

import (
	"github.com/alex-user-go/fares/internal/fare"
	"github.com/alex-user-go/fares/internal/search/types"
)

// PriceView is a price vector in response form. Slots without a fare are
// null.
type PriceView [fare.Stops]*float64

// CompanyView is one company's fares in response form.
type CompanyView struct {
	Company  string    `json:"company"`
	Code     string    `json:"code"`
	Prices   PriceView `json:"prices"`
	MinPrice *float64  `json:"min_price"`
}

// InfoView is a fare summary in response form.
type InfoView struct {
	Prices    PriceView     `json:"prices"`
	ByCompany []CompanyView `json:"by_company"`
}

// ManagerView is one manager's search outcome in response form.
type ManagerView struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Attempts int       `json:"attempts"`
	GaveUp   bool      `json:"gave_up"`
	Error    string    `json:"error,omitempty"`
	Info     *InfoView `json:"info,omitempty"`
}

func priceView(p fare.Price) *float64 {
	v, ok := p.Value()
	if !ok {
		return nil
	}
	return &v
}

func newPriceView(v fare.PriceVector) PriceView {
	var out PriceView
	for i, p := range v {
		out[i] = priceView(p)
	}
	return out
}

func newInfoView(info *fare.SearchInfo) InfoView {
	if info == nil {
		info = fare.Default()
	}
	companies := make([]CompanyView, 0, len(info.ByCompany))
	for _, c := range info.ByCompany {
		companies = append(companies, CompanyView{
			Company:  c.Company,
			Code:     c.Code,
			Prices:   newPriceView(c.Prices),
			MinPrice: priceView(c.MinPrice),
		})
	}
	return InfoView{
		Prices:    newPriceView(info.Prices),
		ByCompany: companies,
	}
}

func newManagerView(m types.ManagerResult) ManagerView {
	v := ManagerView{
		ID:       m.ID,
		Name:     m.Name,
		Attempts: m.Attempts,
		GaveUp:   m.GaveUp,
		Error:    m.Error,
	}
	if m.Info != nil {
		info := newInfoView(m.Info)
		v.Info = &info
	}
	return v
}
