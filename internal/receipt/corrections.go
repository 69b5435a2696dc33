package receipt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zombor/pantry-tracker/internal/household"
)

// Correction is a user override for one raw receipt line. Unit and Quantity
// are only applied when set.
type Correction struct {
	Brand    string  `json:"brand"`
	Item     string  `json:"item"`
	Unit     *string `json:"unit,omitempty"`
	Quantity *int    `json:"quantity,omitempty"`
}

// Corrections is the household correction store
type Corrections struct {
	db          household.DB
	idGenerator household.IDGenerator
	timeSource  household.TimeSource
}

// NewCorrections creates a correction store over db
func NewCorrections(db household.DB, idGen household.IDGenerator, timeSrc household.TimeSource) *Corrections {
	return &Corrections{
		db:          db,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Apply overlays the stored correction for line.RawText, if any
func (c *Corrections) Apply(ctx context.Context, householdID string, line Line) (Line, error) {
	if strings.TrimSpace(line.RawText) == "" {
		return line, nil
	}

	var stored *household.FormatCorrection
	err := c.db.View(ctx, func(tx household.Tx) error {
		var err error
		stored, err = tx.GetCorrection(householdID, line.RawText)
		return err
	})
	if errors.Is(err, household.ErrNotFound) {
		return line, nil
	}
	if err != nil {
		return line, fmt.Errorf("getting correction: %w", err)
	}

	return applyCorrection(line, stored), nil
}

func applyCorrection(line Line, c *household.FormatCorrection) Line {
	line.Brand = c.Brand
	line.Item = c.Item
	if c.Unit != nil {
		line.Unit = *c.Unit
	}
	if c.Quantity != nil {
		line.Quantity = *c.Quantity
	}
	return line
}

// Record stores correction for rawText, replacing any earlier one
func (c *Corrections) Record(ctx context.Context, householdID, rawText string, correction Correction) error {
	if strings.TrimSpace(rawText) == "" {
		return nil
	}
	now := c.timeSource.Now()

	err := c.db.Update(ctx, func(tx household.Tx) error {
		return tx.PutCorrection(&household.FormatCorrection{
			ID:          c.idGenerator.Generate(),
			HouseholdID: householdID,
			RawText:     rawText,
			Brand:       correction.Brand,
			Item:        correction.Item,
			Unit:        correction.Unit,
			Quantity:    correction.Quantity,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	})
	if err != nil {
		return fmt.Errorf("saving correction: %w", err)
	}
	return nil
}

// edits returns the correction implied by a user changing original into the
// confirmed line, or false when nothing changed. Quantity is only learned for
// lines read from a single raw text.
func edits(original Correction, line PurchaseLine) (Correction, bool) {
	c := Correction{Brand: line.Brand, Item: line.Item}
	changed := line.Brand != original.Brand || line.Item != original.Item

	var originalUnit string
	if original.Unit != nil {
		originalUnit = *original.Unit
	}
	if line.Unit != originalUnit {
		unit := line.Unit
		c.Unit = &unit
		changed = true
	}

	if len(line.SourceTexts) <= 1 && original.Quantity != nil && !line.Count.IsZero() {
		if q := int(line.Count.IntPart()); q != *original.Quantity {
			c.Quantity = &q
			changed = true
		}
	}
	return c, changed
}
