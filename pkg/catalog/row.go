package catalog

// Header is the column layout of the output file.
var Header = []string{"id", "name", "brand", "regular_price", "discount_price"}

// Row is a normalized output record. Absent values are empty strings.
type Row struct {
	ID            string
	Name          string
	Brand         string
	RegularPrice  string
	DiscountPrice string
}

// Record returns the row as a slice in Header order.
func (r Row) Record() []string {
	return []string{r.ID, r.Name, r.Brand, r.RegularPrice, r.DiscountPrice}
}

// NewRow applies the pricing rule to an item: when an old price exists the
// old price is the regular one and the main price is the discount; otherwise
// the main price is regular and there is no discount.
func NewRow(item Item) Row {
	main, old := item.PricePair()

	row := Row{
		ID:    string(item.ID),
		Name:  item.Name,
		Brand: item.Brand,
	}
	if old != "" {
		row.RegularPrice = old.String()
		row.DiscountPrice = main.String()
	} else {
		row.RegularPrice = main.String()
	}
	return row
}

// NewRows maps a page of items to rows, preserving order.
func NewRows(items []Item) []Row {
	rows := make([]Row, 0, len(items))
	for _, item := range items {
		rows = append(rows, NewRow(item))
	}
	return rows
}
