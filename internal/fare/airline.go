package fare

import "strings"

// Labels appended to company names when a provider reports the outbound and
// return legs separately (mileage searches).
const (
	DepartureLabel = " - Ida"
	ReturnLabel    = " - Volta"
)

// Airline is a record of the airline lookup tables.
type Airline struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// Airlines resolves airline records by display name or by code.
type Airlines interface {
	ByName(name string) (Airline, bool)
	ByCode(code string) (Airline, bool)
}

// CanonicalLabel removes the first departure label and then the first return
// label from a company label.
func CanonicalLabel(label string) string {
	name := strings.Replace(label, DepartureLabel, "", 1)
	return strings.Replace(name, ReturnLabel, "", 1)
}

// ResolveCode returns the airline code for a company label. The canonical
// label is looked up by name first, then by code; when neither table has a
// code for it the canonical label itself is returned.
func ResolveCode(airlines Airlines, label string) string {
	name := CanonicalLabel(label)
	if airlines == nil {
		return name
	}
	a, ok := airlines.ByName(name)
	if !ok {
		a, _ = airlines.ByCode(name)
	}
	if a.Code != "" {
		return a.Code
	}
	return name
}
