package scanning

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// ReceiptData is the structured extraction of one receipt. It mirrors the
// JSON contract the extraction models are asked to produce.
type ReceiptData struct {
	Store       StoreHint       `json:"store"`
	Transaction TransactionHint `json:"transaction"`
	Items       []LineItem      `json:"items"`
}

// StoreHint describes the merchant printed on the receipt
type StoreHint struct {
	Name      Text `json:"name"`
	Address   Text `json:"address"`
	City      Text `json:"city"`
	State     Text `json:"state"`
	StoreCode Text `json:"store_code"`
	Phone     Text `json:"phone"`
}

// TransactionHint holds the receipt totals
type TransactionHint struct {
	Date          Text   `json:"date"` // ISO 8601 format
	Time          Text   `json:"time"`
	Subtotal      Number `json:"subtotal"`
	Tax           Number `json:"tax"`
	Total         Number `json:"total"`
	PaymentMethod Text   `json:"payment_method"`
}

// LineItem is one purchased line as read from the receipt
type LineItem struct {
	RawText    Text   `json:"raw_text"`
	Brand      Text   `json:"brand"`
	Item       Text   `json:"item"`
	Quantity   Number `json:"quantity"`
	Unit       Text   `json:"unit"`
	UnitPrice  Number `json:"unit_price"`
	TotalPrice Number `json:"total_price"`
	Taxable    Flag   `json:"taxable"`
	TaxAmount  Number `json:"tax_amount"`
	StoreCode  Text   `json:"store_code"`
}

// Scanner defines the interface for receipt extraction
type Scanner interface {
	// ScanReceipt analyzes a receipt image/PDF and extracts its lines
	ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*ReceiptData, error)
	// Close closes the scanner and releases resources
	Close() error
}

// Number is a numeric field that may arrive as a JSON number, a string or null.
// The text is kept as received; an empty Number means the field was absent.
type Number string

// UnmarshalJSON accepts numbers, strings and null
func (n *Number) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	switch {
	case text == "null":
		*n = ""
	case strings.HasPrefix(text, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = Number(strings.TrimSpace(s))
	default:
		*n = Number(text)
	}
	return nil
}

// Decimal parses the number, ignoring currency symbols and thousands
// separators. ok is false when the field is blank or not a number.
func (n Number) Decimal() (d decimal.Decimal, ok bool) {
	s := numberCleaner.Replace(strings.TrimSpace(string(n)))
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

var numberCleaner = strings.NewReplacer("$", "", ",", "", " ", "")

// Text is a free-text field that may arrive as a JSON string, number or
// null. Numeric store codes and phone numbers keep their digits; objects and
// arrays read as blank.
type Text string

// UnmarshalJSON accepts strings, numbers, booleans and null
func (t *Text) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	switch {
	case text == "null", strings.HasPrefix(text, "{"), strings.HasPrefix(text, "["):
		*t = ""
	case strings.HasPrefix(text, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(strings.TrimSpace(s))
	default:
		*t = Text(text)
	}
	return nil
}

// Flag is a boolean the model may emit as true/false, "Y"/"N" or a tax code letter
type Flag bool

// UnmarshalJSON accepts booleans, strings and null
func (f *Flag) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		text = s
	}
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "true", "t", "y", "yes", "x", "1":
		*f = true
	default:
		*f = false
	}
	return nil
}
