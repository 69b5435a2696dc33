package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/pantry-tracker/internal/config"
	"github.com/zombor/pantry-tracker/internal/household"
)

// Rules naming how a purchase reached the inventory
const (
	RuleSKU     = "sku"
	RuleStore   = "store"
	RuleGeneric = "generic"
	RuleStaged  = "staged"
)

// Outcome reports how a purchase changed the inventory
type Outcome struct {
	PurchaseID string          `json:"purchase_id"`
	ItemID     string          `json:"item_id"`
	SheetID    string          `json:"sheet_id,omitempty"`
	Rule       string          `json:"rule"`
	Created    bool            `json:"created"`
	Added      decimal.Decimal `json:"added"`
	// Repeated is set when the purchase had already been reconciled
	Repeated bool `json:"repeated,omitempty"`
}

// reconcileInput is what every match strategy sees of one purchase
type reconcileInput struct {
	tx          household.Tx
	householdID string
	purchase    *household.Purchase
	storeName   string
	now         time.Time
}

// matchStrategy picks the item a purchase lands on. find returns nil when
// the strategy does not apply. A creating strategy returns a new, unsaved item.
type matchStrategy struct {
	rule    string
	creates bool
	find    func(in *reconcileInput) (*household.InventoryItem, error)
}

func (s *Service) strategies() []matchStrategy {
	staged := matchStrategy{rule: RuleStaged, creates: true, find: s.newStagedItem}
	if s.policy == config.MergePolicyStage {
		return []matchStrategy{staged}
	}
	return []matchStrategy{
		{rule: RuleSKU, find: findBySKU},
		{rule: RuleStore, find: findAtStore},
		{rule: RuleGeneric, find: findGeneric},
		staged,
	}
}

// Reconcile applies a persisted purchase to the household inventory. A
// purchase is applied at most once; later calls report the first outcome.
func (s *Service) Reconcile(ctx context.Context, householdID, purchaseID string) (*Outcome, error) {
	var outcome *Outcome
	err := s.db.Update(ctx, func(tx household.Tx) error {
		outcome = nil

		prior, err := tx.GetReconciliation(householdID, purchaseID)
		if err == nil {
			outcome = &Outcome{
				PurchaseID: purchaseID,
				ItemID:     prior.ItemID,
				Rule:       prior.Rule,
				Created:    prior.Created,
				Repeated:   true,
			}
			return nil
		}
		if !errors.Is(err, household.ErrNotFound) {
			return fmt.Errorf("getting reconciliation: %w", err)
		}

		purchase, err := tx.GetPurchase(householdID, purchaseID)
		if err != nil {
			if errors.Is(err, household.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrPurchaseNotFound, purchaseID)
			}
			return fmt.Errorf("getting purchase: %w", err)
		}

		storeName, err := purchaseStore(tx, purchase)
		if err != nil {
			return err
		}

		in := &reconcileInput{
			tx:          tx,
			householdID: householdID,
			purchase:    purchase,
			storeName:   storeName,
			now:         s.timeSource.Now(),
		}
		amount := QuantityToAdd(purchase)

		for _, strategy := range s.strategies() {
			item, err := strategy.find(in)
			if err != nil {
				return fmt.Errorf("%s match: %w", strategy.rule, err)
			}
			if item == nil {
				continue
			}

			if strategy.creates {
				item.Quantity = amount
			} else {
				addStock(item, amount, s.stockByUsage)
				item.UpdatedAt = in.now
			}
			if err := tx.SaveItem(item); err != nil {
				return fmt.Errorf("saving item: %w", err)
			}
			err = tx.SaveReconciliation(&household.Reconciliation{
				PurchaseID:  purchase.ID,
				HouseholdID: householdID,
				ItemID:      item.ID,
				Rule:        strategy.rule,
				Created:     strategy.creates,
				CreatedAt:   in.now,
			})
			if err != nil {
				return fmt.Errorf("saving reconciliation: %w", err)
			}

			outcome = &Outcome{
				PurchaseID: purchase.ID,
				ItemID:     item.ID,
				SheetID:    item.SheetID,
				Rule:       strategy.rule,
				Created:    strategy.creates,
				Added:      amount,
			}
			return nil
		}
		return fmt.Errorf("no rule placed purchase %s", purchase.ID)
	})
	if err != nil {
		return nil, err
	}

	if !outcome.Repeated {
		slog.Info("Reconciled purchase",
			"household", householdID,
			"purchase", purchaseID,
			"item", outcome.ItemID,
			"rule", outcome.Rule,
		)
	}
	return outcome, nil
}

// QuantityToAdd is the stock a purchase adds: its units truncated to a whole
// number when that is positive, otherwise 1. The purchase count is ignored.
func QuantityToAdd(p *household.Purchase) decimal.Decimal {
	if p.Units != nil {
		if units := p.Units.Truncate(0); units.IsPositive() {
			return units
		}
	}
	return decimal.NewFromInt(1)
}

// addStock increments the item's quantity. With byUsage, count-mode items
// gain containers instead, and quantity only through PerCount.
func addStock(item *household.InventoryItem, amount decimal.Decimal, byUsage bool) {
	if byUsage && item.UsageMode == household.UsageCount {
		item.Count = item.Count.Add(amount)
		if item.PerCount != nil {
			item.Quantity = item.Quantity.Add(amount.Mul(*item.PerCount))
		}
		return
	}
	item.Quantity = item.Quantity.Add(amount)
}

// purchaseStore resolves the name of the store a purchase was made at, or ""
func purchaseStore(tx household.Tx, p *household.Purchase) (string, error) {
	stop, err := tx.GetStop(p.HouseholdID, p.StopID)
	if errors.Is(err, household.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting stop: %w", err)
	}
	if stop.StoreID == nil {
		return "", nil
	}

	store, err := tx.GetStore(p.HouseholdID, *stop.StoreID)
	if errors.Is(err, household.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting store: %w", err)
	}
	return store.Name, nil
}

// findBySKU matches on store code alone, and only when exactly one item has it
func findBySKU(in *reconcileInput) (*household.InventoryItem, error) {
	code := in.purchase.StoreCode
	if code == nil || strings.TrimSpace(*code) == "" {
		return nil, nil
	}
	items, err := in.tx.FindItems(in.householdID, household.ItemQuery{StoreCode: code})
	if err != nil {
		return nil, err
	}
	if len(items) != 1 {
		if len(items) > 1 {
			slog.Warn("Store code matches several items", "store_code", *code, "count", len(items))
		}
		return nil, nil
	}
	return items[0], nil
}

func findAtStore(in *reconcileInput) (*household.InventoryItem, error) {
	if strings.TrimSpace(in.storeName) == "" {
		return nil, nil
	}
	return firstItem(in, household.ItemQuery{
		Brand: &in.purchase.Brand,
		Name:  &in.purchase.Item,
		Store: &in.storeName,
	})
}

func findGeneric(in *reconcileInput) (*household.InventoryItem, error) {
	return firstItem(in, household.ItemQuery{
		Brand:   &in.purchase.Brand,
		Name:    &in.purchase.Item,
		NoStore: true,
	})
}

func firstItem(in *reconcileInput, q household.ItemQuery) (*household.InventoryItem, error) {
	items, err := in.tx.FindItems(in.householdID, q)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

// newStagedItem builds an item for the purchases sheet from the purchase itself
func (s *Service) newStagedItem(in *reconcileInput) (*household.InventoryItem, error) {
	sheet, err := s.purchasesSheetFor(in)
	if err != nil {
		return nil, err
	}

	p := in.purchase
	item := &household.InventoryItem{
		ID:          s.idGenerator.Generate(),
		HouseholdID: in.householdID,
		SheetID:     sheet.ID,
		Name:        p.Item,
		Brand:       p.Brand,
		StoreCode:   p.StoreCode,
		Unit:        p.Unit,
		Price:       p.UnitPrice,
		Count:       p.Count,
		UsageMode:   household.UsageQuantity,
		CreatedAt:   in.now,
		UpdatedAt:   in.now,
	}
	if in.storeName != "" {
		store := in.storeName
		item.Store = &store
	}
	return item, nil
}

// purchasesSheetFor gets or creates the staging sheet, owned by the purchaser
func (s *Service) purchasesSheetFor(in *reconcileInput) (*household.InventorySheet, error) {
	sheet, err := in.tx.FindSheetByName(in.householdID, s.purchasesSheet)
	if err == nil {
		return sheet, nil
	}
	if !errors.Is(err, household.ErrNotFound) {
		return nil, fmt.Errorf("finding purchases sheet: %w", err)
	}

	if strings.TrimSpace(in.purchase.PurchasedBy) == "" {
		return nil, ErrNoSheetOwner
	}
	sheet = &household.InventorySheet{
		ID:          s.idGenerator.Generate(),
		HouseholdID: in.householdID,
		OwnerID:     in.purchase.PurchasedBy,
		Name:        s.purchasesSheet,
		CreatedAt:   in.now,
	}
	if err := in.tx.SaveSheet(sheet); err != nil {
		return nil, fmt.Errorf("creating purchases sheet: %w", err)
	}
	return sheet, nil
}
