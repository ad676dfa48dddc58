package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alex-user-go/fares/internal/fare"
)

// ErrInvalidQuote is returned when a provider quote carries negative prices.
var ErrInvalidQuote = errors.New("invalid quote")

// Query is a flight search request.
type Query struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Departure   string `json:"departure"`
	Return      string `json:"return,omitempty"`
	Adults      int    `json:"adults"`
}

// OneWay reports whether the query has no return date.
func (q Query) OneWay() bool {
	return q.Return == ""
}

// Key returns the cache key of the query.
func (q Query) Key() string {
	return fmt.Sprintf("%s:%s:%s:%s:%d", q.Origin, q.Destination, q.Departure, q.Return, q.Adults)
}

// Quote is the answer of a fare provider.
type Quote struct {
	Departure fare.PriceVector   `json:"departure"`
	Return    fare.PriceVector   `json:"return"`
	ByCompany fare.CompanyPrices `json:"by_company"`
	// Pending is set while the provider is still collecting fares.
	Pending bool `json:"pending,omitempty"`
}

// Normalize trims company labels, drops empty ones, and rejects negative
// prices.
func (q *Quote) Normalize() error {
	if !q.Departure.Valid() || !q.Return.Valid() {
		return fmt.Errorf("%w: negative total", ErrInvalidQuote)
	}

	companies := q.ByCompany[:0]
	for _, c := range q.ByCompany {
		c.Company = strings.TrimSpace(c.Company)
		if c.Company == "" {
			continue
		}
		if !c.Prices.Valid() {
			return fmt.Errorf("%w: negative price for %q", ErrInvalidQuote, c.Company)
		}
		companies = append(companies, c)
	}
	q.ByCompany = companies
	return nil
}

// ManagerResult is the outcome of one manager's search session.
type ManagerResult struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Info     *fare.SearchInfo `json:"info"`
	Attempts int              `json:"attempts"`
	GaveUp   bool             `json:"gave_up"`
	Error    string           `json:"error,omitempty"`
}

// Result represents aggregated search results.
type Result struct {
	Managers          []ManagerResult  `json:"managers"`
	Combined          *fare.SearchInfo `json:"combined"`
	ManagersTotal     int              `json:"managers_total"`
	ManagersSucceeded int              `json:"managers_succeeded"`
	ManagersGaveUp    int              `json:"managers_gave_up"`
	ManagersFailed    int              `json:"managers_failed"`
}
