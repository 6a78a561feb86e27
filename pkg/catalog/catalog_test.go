package catalog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeItem(t *testing.T, raw string) Item {
	t.Helper()
	var item Item
	require.NoError(t, json.Unmarshal([]byte(raw), &item))
	return item
}

func TestNewRow_MainPriceOnly(t *testing.T) {
	item := decodeItem(t, `{"articul":"X1","displayedName":"Tile A","brand":"B","prices":[{"type":"displayMain","price":100}]}`)

	row := NewRow(item)

	assert.Equal(t, []string{"X1", "Tile A", "B", "100", ""}, row.Record())
}

func TestNewRow_OldPricePresent(t *testing.T) {
	item := decodeItem(t, `{"articul":"X2","displayedName":"Tile B","brand":"C","prices":[
		{"type":"displayMain","price":79.9},
		{"type":"displayOld","price":99.9},
		{"type":"unitPrice","price":3.5}
	]}`)

	row := NewRow(item)

	assert.Equal(t, "99.9", row.RegularPrice)
	assert.Equal(t, "79.9", row.DiscountPrice)
}

func TestNewRow_OldPriceListedFirst(t *testing.T) {
	item := Item{
		ID: "X3",
		Prices: []PriceEntry{
			{Type: PriceTypeOld, Price: "500"},
			{Type: PriceTypeMain, Price: "450"},
		},
	}

	row := NewRow(item)

	assert.Equal(t, "500", row.RegularPrice)
	assert.Equal(t, "450", row.DiscountPrice)
}

func TestNewRow_NoPrices(t *testing.T) {
	row := NewRow(Item{ID: "X4", Name: "Grout", Brand: "D"})

	assert.Equal(t, []string{"X4", "Grout", "D", "", ""}, row.Record())
}

func TestPricePair_LastEntryWins(t *testing.T) {
	item := Item{Prices: []PriceEntry{
		{Type: PriceTypeMain, Price: "10"},
		{Type: PriceTypeMain, Price: "12"},
	}}

	main, old := item.PricePair()

	assert.Equal(t, json.Number("12"), main)
	assert.Empty(t, old)
}

func TestFlexString(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want FlexString
	}{
		{name: "string", raw: `{"articul":"82345678"}`, want: "82345678"},
		{name: "number", raw: `{"articul":82345678}`, want: "82345678"},
		{name: "null", raw: `{"articul":null}`, want: ""},
		{name: "missing", raw: `{}`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := decodeItem(t, tt.raw)
			assert.Equal(t, tt.want, item.ID)
		})
	}
}

func TestFlexString_Invalid(t *testing.T) {
	var item Item
	err := json.Unmarshal([]byte(`{"articul":{"nested":true}}`), &item)
	require.Error(t, err)
}

func TestNewRows_PreservesOrder(t *testing.T) {
	items := []Item{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	rows := NewRows(items)

	require.Len(t, rows, 3)
	assert.Equal(t, "a", rows[0].ID)
	assert.Equal(t, "b", rows[1].ID)
	assert.Equal(t, "c", rows[2].ID)
}
