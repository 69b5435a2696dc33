package household

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	defaultMaxRetries = 10
	retryBaseDelay    = 5 * time.Millisecond
)

// PostgresDB implements the DB interface on PostgreSQL. Update transactions run
// at SERIALIZABLE isolation with row locks on reads and are retried on
// serialization failures.
type PostgresDB struct {
	db         *gorm.DB
	maxRetries int
}

// NewPostgresDB connects to dsn and migrates the schema
func NewPostgresDB(dsn string) (*PostgresDB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}

	err = db.AutoMigrate(
		&Store{}, &Brand{}, &Unit{}, &FormatCorrection{}, &Trip{}, &Stop{},
		&Purchase{}, &BudgetEntry{}, &InventorySheet{}, &InventoryItem{},
		&Reconciliation{}, &ShoppingListItem{}, &Scan{},
	)
	if err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &PostgresDB{db: db, maxRetries: defaultMaxRetries}, nil
}

// View runs fn in a read-only transaction
func (p *PostgresDB) View(ctx context.Context, fn func(tx Tx) error) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	}, &sql.TxOptions{ReadOnly: true})
}

// Update runs fn in a serializable read-write transaction, retrying it when
// PostgreSQL aborts the transaction because of a concurrent writer.
func (p *PostgresDB) Update(ctx context.Context, fn func(tx Tx) error) error {
	var err error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(&gormTx{db: tx, lock: true})
		}, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if !isSerializationFailure(err) {
			return err
		}
		slog.Warn("Retrying conflicting transaction", "attempt", attempt, "error", err)

		// back off with jitter before the next attempt
		delay := retryBaseDelay*time.Duration(attempt) + rand.N(retryBaseDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("transaction retries exhausted: %w", err)
}

// Close closes the database connection
func (p *PostgresDB) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// serialization_failure, deadlock_detected
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

type gormTx struct {
	db   *gorm.DB
	lock bool
}

// query starts a read, taking row locks inside read-write transactions
func (t *gormTx) query() *gorm.DB {
	if t.lock {
		return t.db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return t.db
}

func first[T any](q *gorm.DB, what string) (*T, error) {
	var rec T
	if err := q.First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, what)
		}
		return nil, err
	}
	return &rec, nil
}

func (t *gormTx) save(v any) error {
	err := t.db.Save(v).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func (t *gormTx) SaveStore(store *Store) error {
	store.NameKey = Key(store.Name)
	return t.save(store)
}

func (t *gormTx) GetStore(householdID, id string) (*Store, error) {
	return first[Store](t.query().Where("household_id = ? AND id = ?", householdID, id), "store "+id)
}

func (t *gormTx) FindStoreByName(householdID, name string) (*Store, error) {
	return first[Store](t.query().Where("household_id = ? AND name_key = ?", householdID, Key(name)), "store "+name)
}

func (t *gormTx) FindStoreByCode(householdID, code string) (*Store, error) {
	return first[Store](t.query().Where("household_id = ? AND store_code = ?", householdID, code), "store code "+code)
}

func (t *gormTx) SaveBrand(brand *Brand) error {
	brand.NameKey = Key(brand.Name)
	return t.save(brand)
}

func (t *gormTx) FindBrandByName(householdID, name string) (*Brand, error) {
	return first[Brand](t.query().Where("household_id = ? AND name_key = ?", householdID, Key(name)), "brand "+name)
}

func (t *gormTx) SaveUnit(unit *Unit) error {
	unit.NameKey = Key(unit.Name)
	return t.save(unit)
}

func (t *gormTx) FindUnitByName(householdID, name string) (*Unit, error) {
	return first[Unit](t.query().Where("household_id = ? AND name_key = ?", householdID, Key(name)), "unit "+name)
}

func (t *gormTx) GetCorrection(householdID, rawText string) (*FormatCorrection, error) {
	return first[FormatCorrection](t.db.Where("household_id = ? AND raw_key = ?", householdID, Key(rawText)), "correction "+rawText)
}

func (t *gormTx) PutCorrection(correction *FormatCorrection) error {
	correction.RawKey = Key(correction.RawText)
	return t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "household_id"}, {Name: "raw_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"raw_text", "brand", "item", "unit", "quantity", "updated_at"}),
	}).Create(correction).Error
}

func (t *gormTx) SaveTrip(trip *Trip) error {
	return t.save(trip)
}

func (t *gormTx) GetTrip(householdID, id string) (*Trip, error) {
	return first[Trip](t.db.Where("household_id = ? AND id = ?", householdID, id), "trip "+id)
}

func (t *gormTx) SaveStop(stop *Stop) error {
	return t.save(stop)
}

func (t *gormTx) GetStop(householdID, id string) (*Stop, error) {
	return first[Stop](t.db.Where("household_id = ? AND id = ?", householdID, id), "stop "+id)
}

func (t *gormTx) SavePurchase(purchase *Purchase) error {
	return t.save(purchase)
}

func (t *gormTx) GetPurchase(householdID, id string) (*Purchase, error) {
	return first[Purchase](t.db.Where("household_id = ? AND id = ?", householdID, id), "purchase "+id)
}

func (t *gormTx) SaveBudgetEntry(entry *BudgetEntry) error {
	return t.save(entry)
}

func (t *gormTx) GetBudgetEntry(householdID, id string) (*BudgetEntry, error) {
	return first[BudgetEntry](t.db.Where("household_id = ? AND id = ?", householdID, id), "budget entry "+id)
}

func (t *gormTx) SaveSheet(sheet *InventorySheet) error {
	sheet.NameKey = Key(sheet.Name)
	return t.save(sheet)
}

func (t *gormTx) GetSheet(householdID, id string) (*InventorySheet, error) {
	return first[InventorySheet](t.query().Where("household_id = ? AND id = ?", householdID, id), "sheet "+id)
}

func (t *gormTx) FindSheetByName(householdID, name string) (*InventorySheet, error) {
	return first[InventorySheet](t.query().Where("household_id = ? AND name_key = ?", householdID, Key(name)), "sheet "+name)
}

func (t *gormTx) ListSheets(householdID string) ([]*InventorySheet, error) {
	sheets := make([]*InventorySheet, 0)
	if err := t.db.Where("household_id = ?", householdID).Order("name_key").Find(&sheets).Error; err != nil {
		return nil, err
	}
	return sheets, nil
}

func (t *gormTx) SaveItem(item *InventoryItem) error {
	return t.save(item)
}

func (t *gormTx) GetItem(householdID, id string) (*InventoryItem, error) {
	return first[InventoryItem](t.query().Where("household_id = ? AND id = ?", householdID, id), "item "+id)
}

func (t *gormTx) FindItems(householdID string, q ItemQuery) ([]*InventoryItem, error) {
	db := t.query().Where("household_id = ?", householdID)
	if q.SheetID != "" {
		db = db.Where("sheet_id = ?", q.SheetID)
	}
	if q.StoreCode != nil {
		db = db.Where("store_code = ?", *q.StoreCode)
	}
	if q.Brand != nil {
		db = db.Where("lower(trim(brand)) = ?", Key(*q.Brand))
	}
	if q.Name != nil {
		db = db.Where("lower(trim(name)) = ?", Key(*q.Name))
	}
	if q.Store != nil {
		db = db.Where("lower(trim(store)) = ?", Key(*q.Store))
	}
	if q.NoStore {
		db = db.Where("(store IS NULL OR trim(store) = '')")
	}

	items := make([]*InventoryItem, 0)
	if err := db.Order("created_at").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (t *gormTx) DeleteItem(householdID, id string) error {
	res := t.db.Where("household_id = ? AND id = ?", householdID, id).Delete(&InventoryItem{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: item %s", ErrNotFound, id)
	}
	return nil
}

func (t *gormTx) GetReconciliation(householdID, purchaseID string) (*Reconciliation, error) {
	return first[Reconciliation](t.query().Where("household_id = ? AND purchase_id = ?", householdID, purchaseID), "reconciliation "+purchaseID)
}

func (t *gormTx) SaveReconciliation(rec *Reconciliation) error {
	return t.save(rec)
}

func (t *gormTx) SaveShoppingItem(item *ShoppingListItem) error {
	return t.save(item)
}

func (t *gormTx) ListShoppingItems(householdID string) ([]*ShoppingListItem, error) {
	items := make([]*ShoppingListItem, 0)
	if err := t.db.Where("household_id = ?", householdID).Order("created_at").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (t *gormTx) SaveScan(scan *Scan) error {
	return t.save(scan)
}

func (t *gormTx) GetScan(householdID, id string) (*Scan, error) {
	return first[Scan](t.db.Where("household_id = ? AND id = ?", householdID, id), "scan "+id)
}
