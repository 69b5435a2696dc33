package receipt

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/zombor/pantry-tracker/internal/config"
	"github.com/zombor/pantry-tracker/internal/household"
	"github.com/zombor/pantry-tracker/internal/scanning"
)

// Corrector rewrites a line from the household's stored corrections
type Corrector interface {
	Apply(ctx context.Context, householdID string, line Line) (Line, error)
}

// Normalizer turns raw extraction output into canonical receipt lines
type Normalizer struct {
	corrector Corrector
	acronyms  map[string]bool
	separator string
}

// NewNormalizer creates a Normalizer. corrector may be nil, in which case no
// corrections are applied.
func NewNormalizer(corrector Corrector, cfg config.NormalizeConfig) *Normalizer {
	acronyms := make(map[string]bool, len(cfg.Acronyms))
	for _, a := range cfg.Acronyms {
		acronyms[strings.ToUpper(strings.TrimSpace(a))] = true
	}
	separator := cfg.MergeSeparator
	if separator == "" {
		separator = " | "
	}
	return &Normalizer{
		corrector: corrector,
		acronyms:  acronyms,
		separator: separator,
	}
}

// Normalize title-cases ALL-CAPS text, coerces numbers, applies corrections
// and merges duplicate lines. Malformed numbers never fail the receipt; only
// a correction lookup failure does.
func (n *Normalizer) Normalize(ctx context.Context, householdID string, data *scanning.ReceiptData) (*Receipt, error) {
	caser := cases.Title(language.English)

	r := &Receipt{
		Store: StoreInfo{
			Name:      n.titleCase(caser, string(data.Store.Name)),
			Address:   n.titleCase(caser, string(data.Store.Address)),
			City:      n.titleCase(caser, string(data.Store.City)),
			State:     string(data.Store.State),
			Phone:     string(data.Store.Phone),
			StoreCode: optionalText(string(data.Store.StoreCode)),
		},
		Date:          string(data.Transaction.Date),
		Time:          string(data.Transaction.Time),
		Subtotal:      optionalAmount(data.Transaction.Subtotal),
		Tax:           optionalAmount(data.Transaction.Tax),
		Total:         optionalAmount(data.Transaction.Total),
		PaymentMethod: string(data.Transaction.PaymentMethod),
	}

	lines := make([]Line, 0, len(data.Items))
	for _, item := range data.Items {
		line := n.line(caser, item)
		if n.corrector != nil {
			corrected, err := n.corrector.Apply(ctx, householdID, line)
			if err != nil {
				return nil, fmt.Errorf("applying correction to %q: %w", line.RawText, err)
			}
			line = corrected
		}
		lines = append(lines, line)
	}
	r.Lines = n.merge(lines)

	return r, nil
}

func (n *Normalizer) line(caser cases.Caser, item scanning.LineItem) Line {
	line := Line{
		RawText:    string(item.RawText),
		Brand:      n.titleCase(caser, string(item.Brand)),
		Item:       n.titleCase(caser, string(item.Item)),
		Quantity:   quantity(item.Quantity),
		Unit:       n.titleCase(caser, string(item.Unit)),
		UnitPrice:  amount(item.UnitPrice),
		TotalPrice: amount(item.TotalPrice),
		Taxable:    bool(item.Taxable),
		TaxAmount:  optionalAmount(item.TaxAmount),
		StoreCode:  optionalText(string(item.StoreCode)),
	}
	if item.RawText != "" {
		line.SourceTexts = []string{string(item.RawText)}
	}
	return line
}

// merge folds lines sharing a brand and item into the first of them
func (n *Normalizer) merge(lines []Line) []Line {
	merged := make([]Line, 0, len(lines))
	index := make(map[string]int)

	for _, line := range lines {
		if line.Brand == "" && line.Item == "" {
			merged = append(merged, line)
			continue
		}
		key := household.Key(line.Brand) + "\x00" + household.Key(line.Item)
		i, ok := index[key]
		if !ok {
			index[key] = len(merged)
			merged = append(merged, line)
			continue
		}

		m := &merged[i]
		m.Quantity += line.Quantity
		m.TotalPrice = m.TotalPrice.Add(line.TotalPrice)
		if line.TaxAmount != nil {
			sum := *line.TaxAmount
			if m.TaxAmount != nil {
				sum = sum.Add(*m.TaxAmount)
			}
			m.TaxAmount = &sum
		}
		m.SourceTexts = append(m.SourceTexts, line.SourceTexts...)
		m.RawText = strings.Join(m.SourceTexts, n.separator)
	}

	for i := range merged {
		if merged[i].TaxAmount != nil && merged[i].TaxAmount.IsZero() {
			merged[i].TaxAmount = nil
		}
	}
	return merged
}

// titleCase rewrites ALL-CAPS text word by word, leaving known acronyms alone.
// Mixed-case text is returned unchanged.
func (n *Normalizer) titleCase(caser cases.Caser, s string) string {
	if !isAllCaps(s) {
		return s
	}
	words := strings.Fields(s)
	for i, w := range words {
		if n.acronyms[strings.Trim(w, ".,()")] {
			continue
		}
		words[i] = caser.String(w)
	}
	return strings.Join(words, " ")
}

func isAllCaps(s string) bool {
	s = strings.TrimSpace(s)
	return len([]rune(s)) > 1 && s == strings.ToUpper(s) && s != strings.ToLower(s)
}

// quantity reads a line quantity, treating a missing or unusable value as 1
func quantity(n scanning.Number) int {
	d, ok := n.Decimal()
	if !ok || d.LessThan(decimal.NewFromInt(1)) {
		return 1
	}
	return int(d.IntPart())
}

// amount reads a price, treating a missing or unparsable value as 0
func amount(n scanning.Number) decimal.Decimal {
	d, _ := n.Decimal()
	return d
}

func optionalAmount(n scanning.Number) *decimal.Decimal {
	d, ok := n.Decimal()
	if !ok {
		return nil
	}
	return &d
}

func optionalText(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
