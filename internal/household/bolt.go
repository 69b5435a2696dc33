package household

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	storesBucket          = "stores"
	brandsBucket          = "brands"
	unitsBucket           = "units"
	correctionsBucket     = "corrections"
	tripsBucket           = "trips"
	stopsBucket           = "stops"
	purchasesBucket       = "purchases"
	budgetBucket          = "budget_entries"
	sheetsBucket          = "sheets"
	itemsBucket           = "items"
	reconciliationsBucket = "reconciliations"
	shoppingBucket        = "shopping_list"
	scansBucket           = "scans"

	keySep = "\x00"
)

var allBuckets = []string{
	storesBucket, brandsBucket, unitsBucket, correctionsBucket, tripsBucket, stopsBucket,
	purchasesBucket, budgetBucket, sheetsBucket, itemsBucket, reconciliationsBucket,
	shoppingBucket, scansBucket,
}

// BoltDB implements the DB interface using BoltDB. Records are JSON values
// keyed by household ID and record ID, so a household scan is a prefix seek.
// BoltDB allows a single read-write transaction at a time.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// View runs fn in a read-only transaction
func (b *BoltDB) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(func(tx *bbolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

// Update runs fn in a read-write transaction
func (b *BoltDB) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

type boltTx struct {
	tx *bbolt.Tx
}

func recordKey(householdID, id string) []byte {
	return []byte(householdID + keySep + id)
}

func putRecord(tx *bbolt.Tx, bucket, householdID, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s record: %w", bucket, err)
	}
	return tx.Bucket([]byte(bucket)).Put(recordKey(householdID, id), data)
}

func getRecord[T any](tx *bbolt.Tx, bucket, householdID, id string) (*T, error) {
	data := tx.Bucket([]byte(bucket)).Get(recordKey(householdID, id))
	if data == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, bucket, id)
	}
	var rec T
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling %s record: %w", bucket, err)
	}
	return &rec, nil
}

func listRecords[T any](tx *bbolt.Tx, bucket, householdID string, keep func(*T) bool) ([]*T, error) {
	prefix := []byte(householdID + keySep)
	records := make([]*T, 0)
	c := tx.Bucket([]byte(bucket)).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var rec T
		if err := json.Unmarshal(v, &rec); err != nil {
			return nil, fmt.Errorf("unmarshaling %s record: %w", bucket, err)
		}
		if keep == nil || keep(&rec) {
			records = append(records, &rec)
		}
	}
	return records, nil
}

func findRecord[T any](tx *bbolt.Tx, bucket, householdID, what string, keep func(*T) bool) (*T, error) {
	records, err := listRecords(tx, bucket, householdID, keep)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s %q", ErrNotFound, bucket, what)
	}
	return records[0], nil
}

// checkUnique fails when a differently identified record already owns a name
func checkUnique(existingID string, lookupErr error, id, bucket, name string) error {
	if lookupErr != nil {
		if errors.Is(lookupErr, ErrNotFound) {
			return nil
		}
		return lookupErr
	}
	if existingID != id {
		return fmt.Errorf("%w: %s %q", ErrDuplicate, bucket, name)
	}
	return nil
}

func (t *boltTx) SaveStore(store *Store) error {
	store.NameKey = Key(store.Name)
	existing, err := t.FindStoreByName(store.HouseholdID, store.Name)
	var existingID string
	if existing != nil {
		existingID = existing.ID
	}
	if err := checkUnique(existingID, err, store.ID, storesBucket, store.Name); err != nil {
		return err
	}
	return putRecord(t.tx, storesBucket, store.HouseholdID, store.ID, store)
}

func (t *boltTx) GetStore(householdID, id string) (*Store, error) {
	return getRecord[Store](t.tx, storesBucket, householdID, id)
}

func (t *boltTx) FindStoreByName(householdID, name string) (*Store, error) {
	key := Key(name)
	return findRecord(t.tx, storesBucket, householdID, name, func(s *Store) bool {
		return Key(s.Name) == key
	})
}

func (t *boltTx) FindStoreByCode(householdID, code string) (*Store, error) {
	return findRecord(t.tx, storesBucket, householdID, code, func(s *Store) bool {
		return s.StoreCode != nil && *s.StoreCode == code
	})
}

func (t *boltTx) SaveBrand(brand *Brand) error {
	brand.NameKey = Key(brand.Name)
	existing, err := t.FindBrandByName(brand.HouseholdID, brand.Name)
	var existingID string
	if existing != nil {
		existingID = existing.ID
	}
	if err := checkUnique(existingID, err, brand.ID, brandsBucket, brand.Name); err != nil {
		return err
	}
	return putRecord(t.tx, brandsBucket, brand.HouseholdID, brand.ID, brand)
}

func (t *boltTx) FindBrandByName(householdID, name string) (*Brand, error) {
	key := Key(name)
	return findRecord(t.tx, brandsBucket, householdID, name, func(b *Brand) bool {
		return Key(b.Name) == key
	})
}

func (t *boltTx) SaveUnit(unit *Unit) error {
	unit.NameKey = Key(unit.Name)
	existing, err := t.FindUnitByName(unit.HouseholdID, unit.Name)
	var existingID string
	if existing != nil {
		existingID = existing.ID
	}
	if err := checkUnique(existingID, err, unit.ID, unitsBucket, unit.Name); err != nil {
		return err
	}
	return putRecord(t.tx, unitsBucket, unit.HouseholdID, unit.ID, unit)
}

func (t *boltTx) FindUnitByName(householdID, name string) (*Unit, error) {
	key := Key(name)
	return findRecord(t.tx, unitsBucket, householdID, name, func(u *Unit) bool {
		return Key(u.Name) == key
	})
}

func (t *boltTx) GetCorrection(householdID, rawText string) (*FormatCorrection, error) {
	return getRecord[FormatCorrection](t.tx, correctionsBucket, householdID, Key(rawText))
}

func (t *boltTx) PutCorrection(correction *FormatCorrection) error {
	correction.RawKey = Key(correction.RawText)
	existing, err := t.GetCorrection(correction.HouseholdID, correction.RawText)
	switch {
	case err == nil:
		correction.ID = existing.ID
		correction.CreatedAt = existing.CreatedAt
	case !errors.Is(err, ErrNotFound):
		return err
	}
	return putRecord(t.tx, correctionsBucket, correction.HouseholdID, correction.RawKey, correction)
}

func (t *boltTx) SaveTrip(trip *Trip) error {
	return putRecord(t.tx, tripsBucket, trip.HouseholdID, trip.ID, trip)
}

func (t *boltTx) GetTrip(householdID, id string) (*Trip, error) {
	return getRecord[Trip](t.tx, tripsBucket, householdID, id)
}

func (t *boltTx) SaveStop(stop *Stop) error {
	return putRecord(t.tx, stopsBucket, stop.HouseholdID, stop.ID, stop)
}

func (t *boltTx) GetStop(householdID, id string) (*Stop, error) {
	return getRecord[Stop](t.tx, stopsBucket, householdID, id)
}

func (t *boltTx) SavePurchase(purchase *Purchase) error {
	return putRecord(t.tx, purchasesBucket, purchase.HouseholdID, purchase.ID, purchase)
}

func (t *boltTx) GetPurchase(householdID, id string) (*Purchase, error) {
	return getRecord[Purchase](t.tx, purchasesBucket, householdID, id)
}

func (t *boltTx) SaveBudgetEntry(entry *BudgetEntry) error {
	return putRecord(t.tx, budgetBucket, entry.HouseholdID, entry.ID, entry)
}

func (t *boltTx) GetBudgetEntry(householdID, id string) (*BudgetEntry, error) {
	return getRecord[BudgetEntry](t.tx, budgetBucket, householdID, id)
}

func (t *boltTx) SaveSheet(sheet *InventorySheet) error {
	sheet.NameKey = Key(sheet.Name)
	existing, err := t.FindSheetByName(sheet.HouseholdID, sheet.Name)
	var existingID string
	if existing != nil {
		existingID = existing.ID
	}
	if err := checkUnique(existingID, err, sheet.ID, sheetsBucket, sheet.Name); err != nil {
		return err
	}
	return putRecord(t.tx, sheetsBucket, sheet.HouseholdID, sheet.ID, sheet)
}

func (t *boltTx) GetSheet(householdID, id string) (*InventorySheet, error) {
	return getRecord[InventorySheet](t.tx, sheetsBucket, householdID, id)
}

func (t *boltTx) FindSheetByName(householdID, name string) (*InventorySheet, error) {
	key := Key(name)
	return findRecord(t.tx, sheetsBucket, householdID, name, func(s *InventorySheet) bool {
		return Key(s.Name) == key
	})
}

func (t *boltTx) ListSheets(householdID string) ([]*InventorySheet, error) {
	return listRecords[InventorySheet](t.tx, sheetsBucket, householdID, nil)
}

func (t *boltTx) SaveItem(item *InventoryItem) error {
	return putRecord(t.tx, itemsBucket, item.HouseholdID, item.ID, item)
}

func (t *boltTx) GetItem(householdID, id string) (*InventoryItem, error) {
	return getRecord[InventoryItem](t.tx, itemsBucket, householdID, id)
}

func (t *boltTx) FindItems(householdID string, q ItemQuery) ([]*InventoryItem, error) {
	items, err := listRecords(t.tx, itemsBucket, householdID, q.Matches)
	if err != nil {
		return nil, err
	}
	// oldest first, as the postgres store orders them
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (t *boltTx) DeleteItem(householdID, id string) error {
	bucket := t.tx.Bucket([]byte(itemsBucket))
	key := recordKey(householdID, id)
	if bucket.Get(key) == nil {
		return fmt.Errorf("%w: %s %s", ErrNotFound, itemsBucket, id)
	}
	return bucket.Delete(key)
}

func (t *boltTx) GetReconciliation(householdID, purchaseID string) (*Reconciliation, error) {
	return getRecord[Reconciliation](t.tx, reconciliationsBucket, householdID, purchaseID)
}

func (t *boltTx) SaveReconciliation(rec *Reconciliation) error {
	return putRecord(t.tx, reconciliationsBucket, rec.HouseholdID, rec.PurchaseID, rec)
}

func (t *boltTx) SaveShoppingItem(item *ShoppingListItem) error {
	return putRecord(t.tx, shoppingBucket, item.HouseholdID, item.ID, item)
}

func (t *boltTx) ListShoppingItems(householdID string) ([]*ShoppingListItem, error) {
	return listRecords[ShoppingListItem](t.tx, shoppingBucket, householdID, nil)
}

func (t *boltTx) SaveScan(scan *Scan) error {
	return putRecord(t.tx, scansBucket, scan.HouseholdID, scan.ID, scan)
}

func (t *boltTx) GetScan(householdID, id string) (*Scan, error) {
	return getRecord[Scan](t.tx, scansBucket, householdID, id)
}
