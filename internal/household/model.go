package household

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// UsageMode selects which of an inventory item's amounts is consumed.
type UsageMode string

const (
	UsageCount    UsageMode = "count"
	UsageQuantity UsageMode = "quantity"
)

// Valid reports whether m is a known usage mode
func (m UsageMode) Valid() bool {
	return m == UsageCount || m == UsageQuantity
}

// Store is a place purchases are made at
type Store struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	HouseholdID string    `gorm:"size:64;not null;uniqueIndex:idx_stores_household_name,priority:1;index:idx_stores_household_code,priority:1" json:"household_id"`
	Name        string    `gorm:"not null" json:"name"`
	NameKey     string    `gorm:"not null;uniqueIndex:idx_stores_household_name,priority:2" json:"-"`
	StoreCode   *string   `gorm:"index:idx_stores_household_code,priority:2" json:"store_code,omitempty"`
	Address     string    `json:"address,omitempty"`
	City        string    `json:"city,omitempty"`
	State       string    `json:"state,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Brand is a product brand
type Brand struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	HouseholdID string    `gorm:"size:64;not null;uniqueIndex:idx_brands_household_name,priority:1" json:"household_id"`
	Name        string    `gorm:"not null" json:"name"`
	NameKey     string    `gorm:"not null;uniqueIndex:idx_brands_household_name,priority:2" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// Unit is a unit of measure ("lb", "oz", "ct")
type Unit struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	HouseholdID string    `gorm:"size:64;not null;uniqueIndex:idx_units_household_name,priority:1" json:"household_id"`
	Name        string    `gorm:"not null" json:"name"`
	NameKey     string    `gorm:"not null;uniqueIndex:idx_units_household_name,priority:2" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// FormatCorrection is a user override for one raw receipt line. RawKey is the
// lower-cased raw text and is unique per household.
type FormatCorrection struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	HouseholdID string    `gorm:"size:64;not null;uniqueIndex:idx_corrections_household_raw,priority:1" json:"household_id"`
	RawText     string    `gorm:"not null" json:"raw_text"`
	RawKey      string    `gorm:"not null;uniqueIndex:idx_corrections_household_raw,priority:2" json:"raw_key"`
	Brand       string    `json:"brand"`
	Item        string    `json:"item"`
	Unit        *string   `json:"unit,omitempty"`
	Quantity    *int      `json:"quantity,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Trip groups the stops of one shopping run
type Trip struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	HouseholdID string    `gorm:"size:64;not null;index" json:"household_id"`
	Name        string    `json:"name"`
	Date        time.Time `json:"date"`
	CreatedAt   time.Time `json:"created_at"`
}

// Stop is a single store visit within a Trip
type Stop struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	HouseholdID string    `gorm:"size:64;not null;index" json:"household_id"`
	TripID      string    `gorm:"size:36;not null;index" json:"trip_id"`
	StoreID     *string   `gorm:"size:36" json:"store_id,omitempty"`
	VisitedAt   time.Time `json:"visited_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Purchase is one confirmed receipt line. It is never updated after creation.
type Purchase struct {
	ID            string           `gorm:"primaryKey;size:36" json:"id"`
	HouseholdID   string           `gorm:"size:64;not null;index" json:"household_id"`
	StopID        string           `gorm:"size:36;not null;index" json:"stop_id"`
	BudgetEntryID string           `gorm:"size:36" json:"budget_entry_id"`
	PurchasedBy   string           `gorm:"size:64" json:"purchased_by"`
	RawText       string           `json:"raw_text,omitempty"`
	Brand         string           `json:"brand"`
	Item          string           `gorm:"not null" json:"item"`
	Unit          string           `json:"unit,omitempty"`
	Count         decimal.Decimal  `gorm:"type:numeric(20,4);not null;default:0" json:"count"`
	Units         *decimal.Decimal `gorm:"type:numeric(20,4)" json:"units,omitempty"`
	UnitPrice     decimal.Decimal  `gorm:"type:numeric(20,4);not null;default:0" json:"unit_price"`
	TotalPrice    decimal.Decimal  `gorm:"type:numeric(20,4);not null;default:0" json:"total_price"`
	TaxAmount     *decimal.Decimal `gorm:"type:numeric(20,4)" json:"tax_amount,omitempty"`
	Taxable       bool             `json:"taxable"`
	StoreCode     *string          `gorm:"size:64" json:"store_code,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// BudgetEntry is the money-ledger side of a purchase
type BudgetEntry struct {
	ID          string          `gorm:"primaryKey;size:36" json:"id"`
	HouseholdID string          `gorm:"size:64;not null;index" json:"household_id"`
	PurchaseID  string          `gorm:"size:36;not null;index" json:"purchase_id"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"amount"`
	Currency    string          `gorm:"size:3" json:"currency"`
	Date        time.Time       `json:"date"`
	CreatedAt   time.Time       `json:"created_at"`
}

// InventorySheet is a named container of inventory items
type InventorySheet struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	HouseholdID string    `gorm:"size:64;not null;uniqueIndex:idx_sheets_household_name,priority:1" json:"household_id"`
	OwnerID     string    `gorm:"size:64" json:"owner_id"`
	Name        string    `gorm:"not null" json:"name"`
	NameKey     string    `gorm:"not null;uniqueIndex:idx_sheets_household_name,priority:2" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// InventoryItem is stock on hand. Quantity is the continuous amount, Count the
// number of containers and PerCount, when set, the quantity held by one container.
type InventoryItem struct {
	ID          string           `gorm:"primaryKey;size:36" json:"id"`
	HouseholdID string           `gorm:"size:64;not null;index;index:idx_items_household_code,priority:1" json:"household_id"`
	SheetID     string           `gorm:"size:36;not null;index" json:"sheet_id"`
	Name        string           `gorm:"not null" json:"name"`
	Brand       string           `json:"brand"`
	Store       *string          `json:"store,omitempty"`
	StoreCode   *string          `gorm:"size:64;index:idx_items_household_code,priority:2" json:"store_code,omitempty"`
	Unit        string           `json:"unit,omitempty"`
	Price       decimal.Decimal  `gorm:"type:numeric(20,4);not null;default:0" json:"price"`
	Quantity    decimal.Decimal  `gorm:"type:numeric(20,4);not null;default:0" json:"quantity"`
	Count       decimal.Decimal  `gorm:"type:numeric(20,4);not null;default:0" json:"count"`
	PerCount    *decimal.Decimal `gorm:"type:numeric(20,4)" json:"per_count,omitempty"`
	MinQuantity decimal.Decimal  `gorm:"type:numeric(20,4);not null;default:0" json:"min_quantity"`
	UsageMode   UsageMode        `gorm:"size:16;not null;default:'quantity'" json:"usage_mode"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Available returns the amount that counts as stock for the item's usage mode
func (i *InventoryItem) Available() decimal.Decimal {
	if i.UsageMode == UsageCount {
		return i.Count
	}
	return i.Quantity
}

// Reconciliation records which item a purchase was applied to
type Reconciliation struct {
	PurchaseID  string    `gorm:"primaryKey;size:36" json:"purchase_id"`
	HouseholdID string    `gorm:"size:64;not null;index" json:"household_id"`
	ItemID      string    `gorm:"size:36;not null" json:"item_id"`
	Rule        string    `gorm:"size:32;not null" json:"rule"`
	Created     bool      `json:"created"`
	CreatedAt   time.Time `json:"created_at"`
}

// ShoppingListItem is an entry on the household shopping list
type ShoppingListItem struct {
	ID          string          `gorm:"primaryKey;size:36" json:"id"`
	HouseholdID string          `gorm:"size:64;not null;index" json:"household_id"`
	ItemID      *string         `gorm:"size:36" json:"item_id,omitempty"`
	Name        string          `gorm:"not null" json:"name"`
	Brand       string          `json:"brand,omitempty"`
	Amount      decimal.Decimal `gorm:"type:numeric(20,4);not null;default:0" json:"amount"`
	Done        bool            `json:"done"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Scan is an uploaded receipt image
type Scan struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	HouseholdID string    `gorm:"size:64;not null;index" json:"household_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// Key folds a name for case-insensitive comparison
func Key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
