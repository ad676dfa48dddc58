package airline

import "github.com/alex-user-go/fares/internal/fare"

// Directory is an in-memory airline table indexed by display name and by
// code. It is read-only after construction.
type Directory struct {
	byName map[string]fare.Airline
	byCode map[string]fare.Airline
}

// NewDirectory builds a Directory. When two records share a name or a code
// the first one wins.
func NewDirectory(airlines []fare.Airline) *Directory {
	d := &Directory{
		byName: make(map[string]fare.Airline, len(airlines)),
		byCode: make(map[string]fare.Airline, len(airlines)),
	}
	for _, a := range airlines {
		if _, ok := d.byName[a.Name]; !ok && a.Name != "" {
			d.byName[a.Name] = a
		}
		if _, ok := d.byCode[a.Code]; !ok && a.Code != "" {
			d.byCode[a.Code] = a
		}
	}
	return d
}

// ByName implements fare.Airlines.
func (d *Directory) ByName(name string) (fare.Airline, bool) {
	a, ok := d.byName[name]
	return a, ok
}

// ByCode implements fare.Airlines.
func (d *Directory) ByCode(code string) (fare.Airline, bool) {
	a, ok := d.byCode[code]
	return a, ok
}

// Len returns the number of distinct names.
func (d *Directory) Len() int {
	return len(d.byName)
}
