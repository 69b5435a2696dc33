package inventory

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/zombor/pantry-tracker/internal/config"
	"github.com/zombor/pantry-tracker/internal/household"
)

const concurrentWriters = 8

// behavesConcurrently runs simultaneous writers against any DB implementation.
// Every test works in a fresh household so shared databases need no cleanup.
func behavesConcurrently(open func() household.DB) {
	var (
		ctx       context.Context
		db        household.DB
		service   *Service
		hh        string
		pantry    string
		cellar    string
		itemID    string
		startedAt time.Time
	)

	saveItem := func(item *household.InventoryItem) {
		seed(db, func(tx household.Tx) error { return tx.SaveItem(item) })
	}

	itemsOn := func(sheetID string) []*household.InventoryItem {
		var items []*household.InventoryItem
		Expect(db.View(ctx, func(tx household.Tx) (err error) {
			items, err = tx.FindItems(hh, household.ItemQuery{SheetID: sheetID})
			return err
		})).To(Succeed())
		return items
	}

	// all starts n goroutines and waits for them to finish
	all := func(n int, fn func(i int) error) []error {
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				errs[i] = fn(i)
			}()
		}
		wg.Wait()
		return errs
	}

	BeforeEach(func() {
		ctx = context.Background()
		db = open()
		DeferCleanup(db.Close)
		service = NewService(db, config.Default().Inventory)
		hh = uuid.NewString()
		pantry = uuid.NewString()
		cellar = uuid.NewString()
		itemID = uuid.NewString()
		startedAt = time.Now()

		seed(db, func(tx household.Tx) error {
			for _, sheet := range []*household.InventorySheet{
				{ID: pantry, HouseholdID: hh, OwnerID: "user-1", Name: "Pantry", CreatedAt: startedAt},
				{ID: cellar, HouseholdID: hh, OwnerID: "user-1", Name: "Cellar", CreatedAt: startedAt},
			} {
				if err := tx.SaveSheet(sheet); err != nil {
					return err
				}
			}
			return nil
		})
	})

	When("purchases sharing a store code reconcile at the same time", func() {
		var purchaseIDs []string

		BeforeEach(func() {
			storeID := uuid.NewString()
			stopID := uuid.NewString()
			saveItem(&household.InventoryItem{
				ID:          itemID,
				HouseholdID: hh,
				SheetID:     pantry,
				Name:        "Milk",
				Brand:       "Moo",
				StoreCode:   strPtr("X1"),
				Quantity:    dec("2"),
				UsageMode:   household.UsageQuantity,
				CreatedAt:   startedAt,
			})

			purchaseIDs = make([]string, concurrentWriters)
			seed(db, func(tx household.Tx) error {
				if err := tx.SaveStore(&household.Store{ID: storeID, HouseholdID: hh, Name: "Corner Market", CreatedAt: startedAt}); err != nil {
					return err
				}
				if err := tx.SaveStop(&household.Stop{ID: stopID, HouseholdID: hh, TripID: uuid.NewString(), StoreID: &storeID, CreatedAt: startedAt}); err != nil {
					return err
				}
				for i := range purchaseIDs {
					purchaseIDs[i] = uuid.NewString()
					err := tx.SavePurchase(&household.Purchase{
						ID:          purchaseIDs[i],
						HouseholdID: hh,
						StopID:      stopID,
						PurchasedBy: "user-1",
						Brand:       "Moo",
						Item:        "Milk",
						StoreCode:   strPtr("X1"),
						Count:       dec("1"),
						UnitPrice:   dec("3.49"),
						TotalPrice:  dec("3.49"),
						CreatedAt:   startedAt,
					})
					if err != nil {
						return err
					}
				}
				return nil
			})
		})

		It("applies every purchase exactly once", func() {
			errs := all(concurrentWriters, func(i int) error {
				_, err := service.Reconcile(ctx, hh, purchaseIDs[i])
				return err
			})
			for _, err := range errs {
				Expect(err).NotTo(HaveOccurred())
			}

			items := itemsOn(pantry)
			Expect(items).To(HaveLen(1))
			Expect(items[0].ID).To(Equal(itemID))
			Expect(items[0].Quantity.Equal(decimal.NewFromInt(2 + concurrentWriters))).To(BeTrue())
		})

		It("applies a purchase once when it is reconciled twice at the same time", func() {
			errs := all(concurrentWriters, func(int) error {
				_, err := service.Reconcile(ctx, hh, purchaseIDs[0])
				return err
			})
			for _, err := range errs {
				Expect(err).NotTo(HaveOccurred())
			}

			items := itemsOn(pantry)
			Expect(items).To(HaveLen(1))
			Expect(items[0].Quantity.String()).To(Equal("3"))
		})
	})

	When("partial transfers of one item run at the same time", func() {
		BeforeEach(func() {
			saveItem(&household.InventoryItem{
				ID:          itemID,
				HouseholdID: hh,
				SheetID:     pantry,
				Name:        "Rice",
				Brand:       "Field",
				Unit:        "lb",
				Quantity:    dec("20"),
				UsageMode:   household.UsageQuantity,
				CreatedAt:   startedAt,
			})
		})

		It("conserves the quantity across both sheets", func() {
			errs := all(concurrentWriters, func(int) error {
				_, err := service.Transfer(ctx, hh, TransferRequest{
					ItemID:        itemID,
					TargetSheetID: cellar,
					Amount:        dec("1.5"),
					Mode:          household.UsageQuantity,
				})
				return err
			})
			for _, err := range errs {
				Expect(err).NotTo(HaveOccurred())
			}

			source := itemsOn(pantry)
			Expect(source).To(HaveLen(1))
			Expect(source[0].Quantity.String()).To(Equal("8"))

			target := itemsOn(cellar)
			Expect(target).To(HaveLen(1))
			Expect(target[0].Quantity.String()).To(Equal("12"))
			Expect(source[0].Quantity.Add(target[0].Quantity).String()).To(Equal("20"))
		})

		It("never moves more than the source holds", func() {
			errs := all(concurrentWriters, func(int) error {
				_, err := service.Transfer(ctx, hh, TransferRequest{
					ItemID:        itemID,
					TargetSheetID: cellar,
					Amount:        dec("6"),
					Mode:          household.UsageQuantity,
				})
				return err
			})
			failed := 0
			for _, err := range errs {
				if err != nil {
					Expect(err).To(MatchError(ErrInvalidAmount))
					failed++
				}
			}
			Expect(failed).To(Equal(concurrentWriters - 3))

			source := itemsOn(pantry)
			Expect(source).To(HaveLen(1))
			Expect(source[0].Quantity.String()).To(Equal("2"))
			target := itemsOn(cellar)
			Expect(target).To(HaveLen(1))
			Expect(target[0].Quantity.String()).To(Equal("18"))
		})
	})
}

var _ = Describe("Concurrent writers on BoltDB", func() {
	behavesConcurrently(func() household.DB {
		db, err := household.NewBoltDB(filepath.Join(GinkgoT().TempDir(), "concurrent.db"))
		Expect(err).NotTo(HaveOccurred())
		return db
	})
})

var _ = Describe("Concurrent writers on PostgresDB", func() {
	BeforeEach(func() {
		if os.Getenv("PANTRY_TRACKER_TEST_DSN") == "" {
			Skip("PANTRY_TRACKER_TEST_DSN not set")
		}
	})

	behavesConcurrently(func() household.DB {
		db, err := household.NewPostgresDB(os.Getenv("PANTRY_TRACKER_TEST_DSN"))
		Expect(err).NotTo(HaveOccurred())
		return db
	})
})
