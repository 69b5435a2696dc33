package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/pantry-tracker/internal/config"
	"github.com/zombor/pantry-tracker/internal/household"
)

var (
	ErrNoSheetOwner     = errors.New("purchases sheet has no owner")
	ErrInvalidAmount    = errors.New("invalid transfer amount")
	ErrInvalidMode      = errors.New("invalid transfer mode")
	ErrSheetNotFound    = errors.New("sheet not found")
	ErrItemNotFound     = errors.New("item not found")
	ErrSameSheet        = errors.New("item is already on the target sheet")
	ErrInvalidSheet     = errors.New("invalid sheet")
	ErrInvalidItem      = errors.New("invalid item")
	ErrPurchaseNotFound = errors.New("purchase not found")
)

// Service owns a household's inventory sheets and their stock
type Service struct {
	db             household.DB
	policy         string
	purchasesSheet string
	stockByUsage   bool
	idGenerator    household.IDGenerator
	timeSource     household.TimeSource
}

// NewService creates a new Service with the default ID generator and time source
func NewService(db household.DB, cfg config.InventoryConfig) *Service {
	return NewServiceWithDeps(db, cfg, household.UUIDGenerator{}, household.SystemClock{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db household.DB, cfg config.InventoryConfig, idGen household.IDGenerator, timeSrc household.TimeSource) *Service {
	policy := cfg.MergePolicy
	if policy == "" {
		policy = config.MergePolicyAuto
	}
	sheet := cfg.PurchasesSheet
	if sheet == "" {
		sheet = config.Default().Inventory.PurchasesSheet
	}
	return &Service{
		db:             db,
		policy:         policy,
		purchasesSheet: sheet,
		stockByUsage:   cfg.StockByUsage,
		idGenerator:    idGen,
		timeSource:     timeSrc,
	}
}

// CreateSheet adds a named sheet to the household
func (s *Service) CreateSheet(ctx context.Context, householdID, ownerID, name string) (*household.InventorySheet, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidSheet)
	}

	sheet := &household.InventorySheet{
		ID:          s.idGenerator.Generate(),
		HouseholdID: householdID,
		OwnerID:     ownerID,
		Name:        name,
		CreatedAt:   s.timeSource.Now(),
	}
	err := s.db.Update(ctx, func(tx household.Tx) error {
		return tx.SaveSheet(sheet)
	})
	if err != nil {
		return nil, fmt.Errorf("saving sheet: %w", err)
	}
	return sheet, nil
}

// ListSheets returns every sheet of the household
func (s *Service) ListSheets(ctx context.Context, householdID string) ([]*household.InventorySheet, error) {
	var sheets []*household.InventorySheet
	err := s.db.View(ctx, func(tx household.Tx) error {
		var err error
		sheets, err = tx.ListSheets(householdID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing sheets: %w", err)
	}
	return sheets, nil
}

// ListItems returns the items of one sheet
func (s *Service) ListItems(ctx context.Context, householdID, sheetID string) ([]*household.InventoryItem, error) {
	var items []*household.InventoryItem
	err := s.db.View(ctx, func(tx household.Tx) error {
		if _, err := getSheet(tx, householdID, sheetID); err != nil {
			return err
		}
		var err error
		items, err = tx.FindItems(householdID, household.ItemQuery{SheetID: sheetID})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	return items, nil
}

func getSheet(tx household.Tx, householdID, sheetID string) (*household.InventorySheet, error) {
	sheet, err := tx.GetSheet(householdID, sheetID)
	if errors.Is(err, household.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSheetNotFound, sheetID)
	}
	return sheet, err
}

func getItem(tx household.Tx, householdID, itemID string) (*household.InventoryItem, error) {
	item, err := tx.GetItem(householdID, itemID)
	if errors.Is(err, household.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	return item, err
}

// ItemInput is a new inventory item entered by hand
type ItemInput struct {
	Name        string              `json:"name" validate:"required"`
	Brand       string              `json:"brand"`
	Store       *string             `json:"store,omitempty"`
	StoreCode   *string             `json:"store_code,omitempty"`
	Unit        string              `json:"unit"`
	Price       decimal.Decimal     `json:"price"`
	Quantity    decimal.Decimal     `json:"quantity"`
	Count       decimal.Decimal     `json:"count"`
	PerCount    *decimal.Decimal    `json:"per_count,omitempty"`
	MinQuantity decimal.Decimal     `json:"min_quantity"`
	UsageMode   household.UsageMode `json:"usage_mode"`
}

// CreateItem adds an item to a sheet
func (s *Service) CreateItem(ctx context.Context, householdID, sheetID string, in ItemInput) (*household.InventoryItem, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidItem)
	}
	if in.UsageMode == "" {
		in.UsageMode = household.UsageQuantity
	}
	if !in.UsageMode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, in.UsageMode)
	}
	for _, v := range []*decimal.Decimal{&in.Price, &in.Quantity, &in.Count, in.PerCount, &in.MinQuantity} {
		if v != nil && v.IsNegative() {
			return nil, fmt.Errorf("%w: amounts must not be negative", ErrInvalidItem)
		}
	}

	now := s.timeSource.Now()
	item := &household.InventoryItem{
		ID:          s.idGenerator.Generate(),
		HouseholdID: householdID,
		SheetID:     sheetID,
		Name:        strings.TrimSpace(in.Name),
		Brand:       strings.TrimSpace(in.Brand),
		Store:       in.Store,
		StoreCode:   in.StoreCode,
		Unit:        in.Unit,
		Price:       in.Price,
		Quantity:    in.Quantity,
		Count:       in.Count,
		PerCount:    in.PerCount,
		MinQuantity: in.MinQuantity,
		UsageMode:   in.UsageMode,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.db.Update(ctx, func(tx household.Tx) error {
		if _, err := getSheet(tx, householdID, sheetID); err != nil {
			return err
		}
		return tx.SaveItem(item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}
