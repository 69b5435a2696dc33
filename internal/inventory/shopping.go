package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/pantry-tracker/internal/household"
)

// Suggestion proposes restocking an item that fell below its minimum
type Suggestion struct {
	Item   *household.InventoryItem `json:"item"`
	Amount decimal.Decimal          `json:"amount"`
}

// ShoppingInput is a new shopping list entry. Name and Brand default to the
// linked item's when ItemID is set.
type ShoppingInput struct {
	ItemID *string         `json:"item_id,omitempty"`
	Name   string          `json:"name"`
	Brand  string          `json:"brand"`
	Amount decimal.Decimal `json:"amount"`
}

// Suggestions lists items whose stock is below their minimum and that are not
// already on the open shopping list. The suggested amount tops the item up
// to its minimum.
func (s *Service) Suggestions(ctx context.Context, householdID string) ([]Suggestion, error) {
	suggestions := make([]Suggestion, 0)
	err := s.db.View(ctx, func(tx household.Tx) error {
		listed, err := tx.ListShoppingItems(householdID)
		if err != nil {
			return fmt.Errorf("listing shopping items: %w", err)
		}
		onList := make(map[string]bool)
		for _, entry := range listed {
			if !entry.Done && entry.ItemID != nil {
				onList[*entry.ItemID] = true
			}
		}

		items, err := tx.FindItems(householdID, household.ItemQuery{})
		if err != nil {
			return fmt.Errorf("listing items: %w", err)
		}
		for _, item := range items {
			if onList[item.ID] || !item.MinQuantity.IsPositive() {
				continue
			}
			if available := item.Available(); available.LessThan(item.MinQuantity) {
				suggestions = append(suggestions, Suggestion{
					Item:   item,
					Amount: item.MinQuantity.Sub(available),
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return suggestions, nil
}

// AddToShoppingList puts an entry on the household shopping list
func (s *Service) AddToShoppingList(ctx context.Context, householdID string, in ShoppingInput) (*household.ShoppingListItem, error) {
	if in.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: amount is negative", ErrInvalidItem)
	}

	entry := &household.ShoppingListItem{
		ID:          s.idGenerator.Generate(),
		HouseholdID: householdID,
		ItemID:      in.ItemID,
		Name:        strings.TrimSpace(in.Name),
		Brand:       strings.TrimSpace(in.Brand),
		Amount:      in.Amount,
		CreatedAt:   s.timeSource.Now(),
	}

	err := s.db.Update(ctx, func(tx household.Tx) error {
		if in.ItemID != nil {
			item, err := getItem(tx, householdID, *in.ItemID)
			if err != nil {
				return err
			}
			if entry.Name == "" {
				entry.Name = item.Name
			}
			if entry.Brand == "" {
				entry.Brand = item.Brand
			}
		}
		if entry.Name == "" {
			return fmt.Errorf("%w: name is required", ErrInvalidItem)
		}
		return tx.SaveShoppingItem(entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ShoppingList returns every entry on the household shopping list
func (s *Service) ShoppingList(ctx context.Context, householdID string) ([]*household.ShoppingListItem, error) {
	var entries []*household.ShoppingListItem
	err := s.db.View(ctx, func(tx household.Tx) error {
		var err error
		entries, err = tx.ListShoppingItems(householdID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing shopping items: %w", err)
	}
	return entries, nil
}
