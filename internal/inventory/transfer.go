package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/pantry-tracker/internal/household"
)

// TransferRequest moves Amount of an item to another sheet. Mode selects
// whether Amount counts containers or continuous quantity.
type TransferRequest struct {
	ItemID        string              `json:"-"`
	TargetSheetID string              `json:"target_sheet_id" validate:"required"`
	Amount        decimal.Decimal     `json:"amount"`
	Mode          household.UsageMode `json:"mode" validate:"required"`
}

// TransferResult describes both sides of a completed transfer
type TransferResult struct {
	// Source is nil when the transfer drained and deleted it
	Source        *household.InventoryItem `json:"source,omitempty"`
	Target        *household.InventoryItem `json:"target"`
	MovedCount    decimal.Decimal          `json:"moved_count"`
	MovedQuantity decimal.Decimal          `json:"moved_quantity"`
	SourceDeleted bool                     `json:"source_deleted"`
}

// Transfer moves stock between sheets. Whatever leaves the source arrives at
// the target, so source.before = source.after + moved for count and quantity.
// A rejected transfer changes nothing.
func (s *Service) Transfer(ctx context.Context, householdID string, req TransferRequest) (*TransferResult, error) {
	if !req.Mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}

	var result *TransferResult
	err := s.db.Update(ctx, func(tx household.Tx) error {
		result = nil

		source, err := getItem(tx, householdID, req.ItemID)
		if err != nil {
			return err
		}
		if _, err := getSheet(tx, householdID, req.TargetSheetID); err != nil {
			return err
		}
		if source.SheetID == req.TargetSheetID {
			return ErrSameSheet
		}
		if err := checkAmount(source, req.Mode, req.Amount); err != nil {
			return err
		}

		movedCount, movedQuantity, full := planTransfer(source, req.Mode, req.Amount)
		now := s.timeSource.Now()

		result = &TransferResult{
			MovedCount:    movedCount,
			MovedQuantity: movedQuantity,
			SourceDeleted: full,
		}
		if full {
			if err := tx.DeleteItem(householdID, source.ID); err != nil {
				return fmt.Errorf("deleting source item: %w", err)
			}
		} else {
			source.Count = source.Count.Sub(movedCount)
			source.Quantity = source.Quantity.Sub(movedQuantity)
			source.UpdatedAt = now
			if err := tx.SaveItem(source); err != nil {
				return fmt.Errorf("saving source item: %w", err)
			}
			result.Source = source
		}

		target, err := s.targetItem(tx, source, req.TargetSheetID, now)
		if err != nil {
			return err
		}
		target.Count = target.Count.Add(movedCount)
		target.Quantity = target.Quantity.Add(movedQuantity)
		target.UpdatedAt = now
		if err := tx.SaveItem(target); err != nil {
			return fmt.Errorf("saving target item: %w", err)
		}
		result.Target = target
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Transferred item",
		"household", householdID,
		"item", req.ItemID,
		"target_sheet", req.TargetSheetID,
		"count", result.MovedCount,
		"quantity", result.MovedQuantity,
		"drained", result.SourceDeleted,
	)
	return result, nil
}

// checkAmount rejects non-positive amounts, fractional container counts and
// amounts larger than the source holds
func checkAmount(source *household.InventoryItem, mode household.UsageMode, amount decimal.Decimal) error {
	available := source.Quantity
	if mode == household.UsageCount {
		available = source.Count
		if amount.LessThan(decimal.NewFromInt(1)) || !amount.Equal(amount.Truncate(0)) {
			return fmt.Errorf("%w: %s is not a whole number of containers", ErrInvalidAmount, amount)
		}
	} else if !amount.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, amount)
	}

	if amount.GreaterThan(available) {
		return fmt.Errorf("%w: %s exceeds the %s available", ErrInvalidAmount, amount, available)
	}
	return nil
}

// planTransfer works out how much count and quantity leave the source. A full
// transfer takes everything the source holds.
func planTransfer(source *household.InventoryItem, mode household.UsageMode, amount decimal.Decimal) (count, quantity decimal.Decimal, full bool) {
	if mode == household.UsageCount {
		if amount.Equal(source.Count) {
			return source.Count, source.Quantity, true
		}
		quantity = decimal.Zero
		if source.PerCount != nil {
			quantity = decimal.Min(amount.Mul(*source.PerCount), source.Quantity)
		}
		return amount, quantity, false
	}

	if amount.Equal(source.Quantity) {
		return source.Count, source.Quantity, true
	}
	return decimal.Zero, amount, false
}

// targetItem finds the brand and name match on the target sheet, or starts a
// copy of source there with nothing in stock
func (s *Service) targetItem(tx household.Tx, source *household.InventoryItem, sheetID string, now time.Time) (*household.InventoryItem, error) {
	matches, err := tx.FindItems(source.HouseholdID, household.ItemQuery{
		SheetID: sheetID,
		Brand:   &source.Brand,
		Name:    &source.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("finding target item: %w", err)
	}
	if len(matches) > 0 {
		return matches[0], nil
	}

	target := *source
	target.ID = s.idGenerator.Generate()
	target.SheetID = sheetID
	target.Count = decimal.Zero
	target.Quantity = decimal.Zero
	target.CreatedAt = now
	return &target, nil
}
