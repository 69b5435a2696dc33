package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/zombor/pantry-tracker/internal/config"
	"github.com/zombor/pantry-tracker/internal/household"
)

var (
	ErrInvalidPurchase = errors.New("invalid purchase")
	ErrStopNotFound    = errors.New("stop not found")
)

// PurchaseLine is the confirmed form of one receipt line
type PurchaseLine struct {
	RawText     string           `json:"raw_text"`
	SourceTexts []string         `json:"source_texts,omitempty"`
	Brand       string           `json:"brand"`
	Item        string           `json:"item" validate:"required"`
	Unit        string           `json:"unit"`
	Count       decimal.Decimal  `json:"count"`
	Units       *decimal.Decimal `json:"units,omitempty"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	TotalPrice  decimal.Decimal  `json:"total_price"`
	Taxable     bool             `json:"taxable"`
	TaxAmount   *decimal.Decimal `json:"tax_amount,omitempty"`
	StoreCode   *string          `json:"store_code,omitempty"`
	// Original holds the values extracted from the receipt, before any edit
	Original *Correction `json:"original,omitempty"`
}

// Validate checks that every amount on the line is non-negative
func (l PurchaseLine) Validate() error {
	if strings.TrimSpace(l.Item) == "" {
		return fmt.Errorf("%w: item is required", ErrInvalidPurchase)
	}
	for name, v := range map[string]*decimal.Decimal{
		"count":       &l.Count,
		"units":       l.Units,
		"unit_price":  &l.UnitPrice,
		"total_price": &l.TotalPrice,
		"tax_amount":  l.TaxAmount,
	} {
		if v != nil && v.IsNegative() {
			return fmt.Errorf("%w: %s is negative", ErrInvalidPurchase, name)
		}
	}
	return nil
}

// Ledger persists purchases together with their budget entries
type Ledger struct {
	db          household.DB
	budget      config.BudgetConfig
	idGenerator household.IDGenerator
	timeSource  household.TimeSource
}

// NewLedger creates a Ledger writing budget entries in budget's currency
func NewLedger(db household.DB, budget config.BudgetConfig, idGen household.IDGenerator, timeSrc household.TimeSource) *Ledger {
	return &Ledger{
		db:          db,
		budget:      budget,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Record persists a Purchase and its BudgetEntry in one transaction
func (l *Ledger) Record(ctx context.Context, householdID, userID, stopID string, line PurchaseLine) (*household.Purchase, error) {
	if err := line.Validate(); err != nil {
		return nil, err
	}

	now := l.timeSource.Now()
	currency := money.GetCurrency(l.budget.Currency)
	if currency == nil {
		return nil, fmt.Errorf("unknown currency %q", l.budget.Currency)
	}
	amount := line.TotalPrice.Round(int32(currency.Fraction))

	purchase := &household.Purchase{
		ID:            l.idGenerator.Generate(),
		HouseholdID:   householdID,
		StopID:        stopID,
		BudgetEntryID: l.idGenerator.Generate(),
		PurchasedBy:   userID,
		RawText:       line.RawText,
		Brand:         strings.TrimSpace(line.Brand),
		Item:          strings.TrimSpace(line.Item),
		Unit:          strings.TrimSpace(line.Unit),
		Count:         line.Count,
		Units:         line.Units,
		UnitPrice:     line.UnitPrice,
		TotalPrice:    line.TotalPrice,
		TaxAmount:     line.TaxAmount,
		Taxable:       line.Taxable,
		StoreCode:     line.StoreCode,
		CreatedAt:     now,
	}

	err := l.db.Update(ctx, func(tx household.Tx) error {
		stop, err := tx.GetStop(householdID, stopID)
		if err != nil {
			if errors.Is(err, household.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrStopNotFound, stopID)
			}
			return fmt.Errorf("getting stop: %w", err)
		}

		if err := tx.SavePurchase(purchase); err != nil {
			return fmt.Errorf("saving purchase: %w", err)
		}
		err = tx.SaveBudgetEntry(&household.BudgetEntry{
			ID:          purchase.BudgetEntryID,
			HouseholdID: householdID,
			PurchaseID:  purchase.ID,
			Category:    l.budget.Category,
			Description: strings.TrimSpace(purchase.Brand + " " + purchase.Item),
			Amount:      amount,
			Currency:    currency.Code,
			Date:        stop.VisitedAt,
			CreatedAt:   now,
		})
		if err != nil {
			return fmt.Errorf("saving budget entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Recorded purchase",
		"household", householdID,
		"purchase", purchase.ID,
		"item", purchase.Item,
		"amount", money.New(amount.Shift(int32(currency.Fraction)).IntPart(), currency.Code).Display(),
	)
	return purchase, nil
}
