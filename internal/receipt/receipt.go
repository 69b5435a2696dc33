package receipt

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Receipt is a normalized extraction, annotated with entity matches for the
// confirmation step. It is never persisted as-is.
type Receipt struct {
	ScanID        string           `json:"scan_id,omitempty"`
	Store         StoreInfo        `json:"store"`
	Date          string           `json:"date"`
	Time          string           `json:"time,omitempty"`
	Subtotal      *decimal.Decimal `json:"subtotal,omitempty"`
	Tax           *decimal.Decimal `json:"tax,omitempty"`
	Total         *decimal.Decimal `json:"total,omitempty"`
	PaymentMethod string           `json:"payment_method,omitempty"`
	Lines         []Line           `json:"lines"`
}

// StoreInfo is the merchant printed on a receipt
type StoreInfo struct {
	Name      string  `json:"name"`
	Address   string  `json:"address,omitempty"`
	City      string  `json:"city,omitempty"`
	State     string  `json:"state,omitempty"`
	Phone     string  `json:"phone,omitempty"`
	StoreCode *string `json:"store_code,omitempty"`
	Match     *Match  `json:"match,omitempty"`
}

// Line is one normalized receipt line. A line merged from duplicates keeps
// every constituent raw text in SourceTexts.
type Line struct {
	RawText     string           `json:"raw_text"`
	SourceTexts []string         `json:"source_texts,omitempty"`
	Brand       string           `json:"brand"`
	Item        string           `json:"item"`
	Quantity    int              `json:"quantity"`
	Unit        string           `json:"unit,omitempty"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	TotalPrice  decimal.Decimal  `json:"total_price"`
	Taxable     bool             `json:"taxable"`
	TaxAmount   *decimal.Decimal `json:"tax_amount,omitempty"`
	StoreCode   *string          `json:"store_code,omitempty"`
	BrandMatch  *Match           `json:"brand_match,omitempty"`
	UnitMatch   *Match           `json:"unit_match,omitempty"`
}

// Match tells the caller whether a name refers to an existing entity
type Match struct {
	IsNew bool   `json:"is_new"`
	ID    string `json:"id,omitempty"`
}

// MarshalJSON writes the money totals with two decimal places
func (r Receipt) MarshalJSON() ([]byte, error) {
	type plain Receipt
	return json.Marshal(struct {
		plain
		Subtotal *string `json:"subtotal,omitempty"`
		Tax      *string `json:"tax,omitempty"`
		Total    *string `json:"total,omitempty"`
	}{plain(r), optionalMoney(r.Subtotal), optionalMoney(r.Tax), optionalMoney(r.Total)})
}

// MarshalJSON writes the line's prices with two decimal places
func (l Line) MarshalJSON() ([]byte, error) {
	type plain Line
	return json.Marshal(struct {
		plain
		UnitPrice  string  `json:"unit_price"`
		TotalPrice string  `json:"total_price"`
		TaxAmount  *string `json:"tax_amount,omitempty"`
	}{plain(l), l.UnitPrice.StringFixed(2), l.TotalPrice.StringFixed(2), optionalMoney(l.TaxAmount)})
}

func optionalMoney(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.StringFixed(2)
	return &s
}
