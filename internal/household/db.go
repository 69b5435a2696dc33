package household

import (
	"context"
	"errors"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// DB is a transactional household store. Update transactions are serialized
// against each other, so a read-modify-write inside fn never loses an update.
type DB interface {
	// View runs fn in a read-only transaction
	View(ctx context.Context, fn func(tx Tx) error) error

	// Update runs fn in a read-write transaction. All writes made by fn
	// commit together, or none do when fn returns an error.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// Close closes the database connection
	Close() error
}

// Tx is the set of household-scoped operations available inside a transaction.
// Lookups that find nothing return an error wrapping ErrNotFound.
type Tx interface {
	SaveStore(store *Store) error
	GetStore(householdID, id string) (*Store, error)
	FindStoreByName(householdID, name string) (*Store, error)
	FindStoreByCode(householdID, code string) (*Store, error)

	SaveBrand(brand *Brand) error
	FindBrandByName(householdID, name string) (*Brand, error)

	SaveUnit(unit *Unit) error
	FindUnitByName(householdID, name string) (*Unit, error)

	// GetCorrection looks a correction up by raw text, ignoring case
	GetCorrection(householdID, rawText string) (*FormatCorrection, error)
	// PutCorrection inserts or replaces the correction for its raw text
	PutCorrection(correction *FormatCorrection) error

	SaveTrip(trip *Trip) error
	GetTrip(householdID, id string) (*Trip, error)
	SaveStop(stop *Stop) error
	GetStop(householdID, id string) (*Stop, error)

	SavePurchase(purchase *Purchase) error
	GetPurchase(householdID, id string) (*Purchase, error)
	SaveBudgetEntry(entry *BudgetEntry) error
	GetBudgetEntry(householdID, id string) (*BudgetEntry, error)

	SaveSheet(sheet *InventorySheet) error
	GetSheet(householdID, id string) (*InventorySheet, error)
	FindSheetByName(householdID, name string) (*InventorySheet, error)
	ListSheets(householdID string) ([]*InventorySheet, error)

	SaveItem(item *InventoryItem) error
	GetItem(householdID, id string) (*InventoryItem, error)
	FindItems(householdID string, q ItemQuery) ([]*InventoryItem, error)
	DeleteItem(householdID, id string) error

	GetReconciliation(householdID, purchaseID string) (*Reconciliation, error)
	SaveReconciliation(rec *Reconciliation) error

	SaveShoppingItem(item *ShoppingListItem) error
	ListShoppingItems(householdID string) ([]*ShoppingListItem, error)

	SaveScan(scan *Scan) error
	GetScan(householdID, id string) (*Scan, error)
}

// ItemQuery narrows an inventory item search. Nil fields are unconstrained;
// string comparisons other than StoreCode ignore case.
type ItemQuery struct {
	SheetID   string
	StoreCode *string
	Brand     *string
	Name      *string
	Store     *string
	NoStore   bool
}

// Matches reports whether item satisfies q
func (q ItemQuery) Matches(item *InventoryItem) bool {
	if q.SheetID != "" && item.SheetID != q.SheetID {
		return false
	}
	if q.StoreCode != nil && (item.StoreCode == nil || *item.StoreCode != *q.StoreCode) {
		return false
	}
	if q.Brand != nil && Key(item.Brand) != Key(*q.Brand) {
		return false
	}
	if q.Name != nil && Key(item.Name) != Key(*q.Name) {
		return false
	}
	if q.Store != nil && (item.Store == nil || Key(*item.Store) != Key(*q.Store)) {
		return false
	}
	if q.NoStore && item.Store != nil && Key(*item.Store) != "" {
		return false
	}
	return true
}
