// Package catalog defines the product model returned by the search API and
// its normalization into output rows.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Price type tags used by the search API.
const (
	PriceTypeMain = "displayMain"
	PriceTypeOld  = "displayOld"
)

// Item is a single product entry of a search response page.
type Item struct {
	ID     FlexString   `json:"articul"`
	Name   string       `json:"displayedName"`
	Brand  string       `json:"brand"`
	Prices []PriceEntry `json:"prices"`
}

// PriceEntry is one price variant of an item.
type PriceEntry struct {
	Type  string      `json:"type"`
	Price json.Number `json:"price"`
}

// FlexString accepts either a JSON string or a JSON number and keeps its
// textual form. Article numbers are served both ways.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("articul must be a string or number: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

// PricePair extracts the main and old price of an item. The last entry of a
// given type wins; entries of other types are ignored.
func (i Item) PricePair() (main, old json.Number) {
	for _, p := range i.Prices {
		switch p.Type {
		case PriceTypeMain:
			main = p.Price
		case PriceTypeOld:
			old = p.Price
		}
	}
	return main, old
}
