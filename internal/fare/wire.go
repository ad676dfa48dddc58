package fare

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var errNotObject = errors.New("expected a JSON object")

// CompanyPrice is one company's incoming fare vector.
type CompanyPrice struct {
	Company string
	Prices  PriceVector
}

// CompanyPrices is an ordered company → vector mapping. It decodes from a
// JSON object and keeps the keys in document order, which decides tie order
// in MergeCompanyFares.
type CompanyPrices []CompanyPrice

// UnmarshalJSON implements json.Unmarshaler.
func (c *CompanyPrices) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*c = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errNotObject
	}

	out := CompanyPrices{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		company, _ := tok.(string)

		var prices PriceVector
		if err := dec.Decode(&prices); err != nil {
			return fmt.Errorf("company %q: %w", company, err)
		}
		out = append(out, CompanyPrice{Company: company, Prices: prices})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*c = out
	return nil
}

// MarshalJSON implements json.Marshaler, writing the companies in order.
func (c CompanyPrices) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, cp := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(cp.Company)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(cp.Prices)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
