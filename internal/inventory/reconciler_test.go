package inventory

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/pantry-tracker/internal/config"
	"github.com/zombor/pantry-tracker/internal/household"
)

var _ = Describe("Reconcile", func() {
	var (
		ctx      context.Context
		db       household.DB
		cfg      config.InventoryConfig
		service  *Service
		purchase *household.Purchase
		outcome  *Outcome
		err      error
	)

	addItem := func(item household.InventoryItem) *household.InventoryItem {
		item.HouseholdID = testHousehold
		item.SheetID = "pantry"
		item.CreatedAt = time.Now()
		if item.UsageMode == "" {
			item.UsageMode = household.UsageQuantity
		}
		seed(db, func(tx household.Tx) error { return tx.SaveItem(&item) })
		return &item
	}

	BeforeEach(func() {
		ctx = context.Background()
		db = newTestDB()
		cfg = config.Default().Inventory

		seed(db, func(tx household.Tx) error {
			if err := tx.SaveSheet(&household.InventorySheet{ID: "pantry", HouseholdID: testHousehold, OwnerID: "user-1", Name: "Pantry"}); err != nil {
				return err
			}
			if err := tx.SaveStore(&household.Store{ID: "store-a", HouseholdID: testHousehold, Name: "A"}); err != nil {
				return err
			}
			return tx.SaveStop(&household.Stop{ID: "stop-1", HouseholdID: testHousehold, TripID: "trip-1", StoreID: strPtr("store-a")})
		})

		purchase = &household.Purchase{
			ID:          "purchase-1",
			HouseholdID: testHousehold,
			StopID:      "stop-1",
			PurchasedBy: "user-1",
			Brand:       "Moo",
			Item:        "Milk",
			Unit:        "gal",
			Count:       dec("1"),
			UnitPrice:   dec("3.49"),
			TotalPrice:  dec("3.49"),
		}
	})

	JustBeforeEach(func() {
		seed(db, func(tx household.Tx) error { return tx.SavePurchase(purchase) })
		service = NewServiceWithDeps(db, cfg, &sequentialIDs{}, &tickingClock{now: time.Now()})
		outcome, err = service.Reconcile(ctx, testHousehold, purchase.ID)
	})

	When("an item carries the purchase's store code", func() {
		var item *household.InventoryItem

		BeforeEach(func() {
			purchase.StoreCode = strPtr("X1")
			item = addItem(household.InventoryItem{ID: "sku-item", Name: "Whole Milk", Brand: "Dairy Co", StoreCode: strPtr("X1"), Quantity: dec("1")})
			addItem(household.InventoryItem{ID: "name-item", Name: "Milk", Brand: "Moo", Store: strPtr("A"), Quantity: dec("1")})
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("increments that item even though brand and name differ", func() {
			got, loadErr := loadItem(db, item.ID)
			Expect(loadErr).NotTo(HaveOccurred())
			Expect(got.Quantity.String()).To(Equal("2"))
			Expect(outcome.Rule).To(Equal(RuleSKU))
			Expect(outcome.Created).To(BeFalse())
		})

		It("leaves the name match alone", func() {
			got, _ := loadItem(db, "name-item")
			Expect(got.Quantity.String()).To(Equal("1"))
		})
	})

	When("several items carry the store code", func() {
		BeforeEach(func() {
			purchase.StoreCode = strPtr("X1")
			addItem(household.InventoryItem{ID: "first", Name: "Bread", StoreCode: strPtr("X1"), Quantity: dec("1")})
			addItem(household.InventoryItem{ID: "second", Name: "Rolls", StoreCode: strPtr("X1"), Quantity: dec("1")})
			addItem(household.InventoryItem{ID: "generic", Name: "Milk", Brand: "Moo", Quantity: dec("1")})
		})

		It("falls through to the next rule", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Rule).To(Equal(RuleGeneric))
			Expect(outcome.ItemID).To(Equal("generic"))
		})
	})

	When("an item matches brand, name and store", func() {
		BeforeEach(func() {
			addItem(household.InventoryItem{ID: "milk-a", Name: "Milk", Brand: "Moo", Store: strPtr("A"), Quantity: dec("1")})
			addItem(household.InventoryItem{ID: "milk-any", Name: "Milk", Brand: "Moo", Quantity: dec("1")})
		})

		It("increments it to 2", func() {
			Expect(err).NotTo(HaveOccurred())
			got, _ := loadItem(db, "milk-a")
			Expect(got.Quantity.String()).To(Equal("2"))
			Expect(outcome.Rule).To(Equal(RuleStore))
		})

		It("prefers it over the store-less item", func() {
			got, _ := loadItem(db, "milk-any")
			Expect(got.Quantity.String()).To(Equal("1"))
		})

		It("creates no item", func() {
			Expect(allItems(db)).To(HaveLen(2))
		})
	})

	When("the matching item ignores case", func() {
		BeforeEach(func() {
			addItem(household.InventoryItem{ID: "milk-a", Name: "MILK", Brand: "moo", Store: strPtr("a"), Quantity: dec("1")})
		})

		It("still matches", func() {
			Expect(outcome.ItemID).To(Equal("milk-a"))
		})
	})

	When("only a store-less item matches brand and name", func() {
		BeforeEach(func() {
			addItem(household.InventoryItem{ID: "milk", Name: "Milk", Brand: "Moo", Quantity: dec("1")})
		})

		It("increments it to 2", func() {
			Expect(err).NotTo(HaveOccurred())
			got, _ := loadItem(db, "milk")
			Expect(got.Quantity.String()).To(Equal("2"))
			Expect(outcome.Rule).To(Equal(RuleGeneric))
			Expect(allItems(db)).To(HaveLen(1))
		})
	})

	When("the only match is stocked from another store", func() {
		BeforeEach(func() {
			addItem(household.InventoryItem{ID: "milk-b", Name: "Milk", Brand: "Moo", Store: strPtr("B"), Quantity: dec("1")})
		})

		It("stages a new item", func() {
			Expect(outcome.Rule).To(Equal(RuleStaged))
			got, _ := loadItem(db, "milk-b")
			Expect(got.Quantity.String()).To(Equal("1"))
		})
	})

	When("nothing matches", func() {
		BeforeEach(func() {
			purchase.Units = decPtr("2.7")
			purchase.StoreCode = strPtr("SKU-9")
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("creates exactly one item in the purchases sheet", func() {
			items := allItems(db)
			Expect(items).To(HaveLen(1))

			var sheet *household.InventorySheet
			Expect(db.View(ctx, func(tx household.Tx) (err error) {
				sheet, err = tx.FindSheetByName(testHousehold, "Purchases")
				return err
			})).To(Succeed())
			Expect(items[0].SheetID).To(Equal(sheet.ID))
			Expect(sheet.OwnerID).To(Equal("user-1"))
		})

		It("copies the purchase onto the new item", func() {
			item := allItems(db)[0]
			Expect(item.Name).To(Equal("Milk"))
			Expect(item.Brand).To(Equal("Moo"))
			Expect(*item.Store).To(Equal("A"))
			Expect(*item.StoreCode).To(Equal("SKU-9"))
			Expect(item.Unit).To(Equal("gal"))
			Expect(item.Price.String()).To(Equal("3.49"))
			Expect(item.Count.String()).To(Equal("1"))
		})

		It("stocks the truncated units", func() {
			Expect(allItems(db)[0].Quantity.String()).To(Equal("2"))
			Expect(outcome.Added.String()).To(Equal("2"))
			Expect(outcome.Created).To(BeTrue())
		})
	})

	When("nothing matches and the purchase has no units", func() {
		It("stocks one", func() {
			Expect(allItems(db)[0].Quantity.String()).To(Equal("1"))
		})
	})

	When("the purchases sheet does not exist and nobody made the purchase", func() {
		BeforeEach(func() {
			purchase.PurchasedBy = ""
		})

		It("returns ErrNoSheetOwner", func() {
			Expect(errors.Is(err, ErrNoSheetOwner)).To(BeTrue())
		})

		It("keeps the purchase", func() {
			Expect(db.View(ctx, func(tx household.Tx) error {
				_, err := tx.GetPurchase(testHousehold, purchase.ID)
				return err
			})).To(Succeed())
			Expect(allItems(db)).To(BeEmpty())
		})
	})

	When("a count-mode item without a per-count size matches by store code", func() {
		BeforeEach(func() {
			purchase.StoreCode = strPtr("X1")
			addItem(household.InventoryItem{ID: "eggs", Name: "Eggs", Brand: "Hen", StoreCode: strPtr("X1"), Count: dec("1"), Quantity: dec("1"), UsageMode: household.UsageCount})
		})

		It("matches by sku", func() {
			Expect(outcome.Rule).To(Equal(RuleSKU))
		})

		It("increments the quantity", func() {
			got, _ := loadItem(db, "eggs")
			Expect(got.Quantity.String()).To(Equal("2"))
			Expect(got.Count.String()).To(Equal("1"))
		})
	})

	When("the matched item is used by count and stock follows usage", func() {
		BeforeEach(func() {
			cfg.StockByUsage = true
			purchase.Units = decPtr("2")
			addItem(household.InventoryItem{ID: "milk", Name: "Milk", Brand: "Moo", Count: dec("1"), Quantity: dec("3"), PerCount: decPtr("3"), UsageMode: household.UsageCount})
		})

		It("adds containers and their quantity", func() {
			got, _ := loadItem(db, "milk")
			Expect(got.Count.String()).To(Equal("3"))
			Expect(got.Quantity.String()).To(Equal("9"))
		})
	})

	When("the purchase was already reconciled", func() {
		BeforeEach(func() {
			addItem(household.InventoryItem{ID: "milk", Name: "Milk", Brand: "Moo", Quantity: dec("1")})
		})

		JustBeforeEach(func() {
			outcome, err = service.Reconcile(ctx, testHousehold, purchase.ID)
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("increments only once", func() {
			got, _ := loadItem(db, "milk")
			Expect(got.Quantity.String()).To(Equal("2"))
		})

		It("reports the first outcome", func() {
			Expect(outcome.Repeated).To(BeTrue())
			Expect(outcome.ItemID).To(Equal("milk"))
			Expect(outcome.Rule).To(Equal(RuleGeneric))
		})
	})

	When("the merge policy is stage", func() {
		BeforeEach(func() {
			cfg.MergePolicy = config.MergePolicyStage
			addItem(household.InventoryItem{ID: "milk-a", Name: "Milk", Brand: "Moo", Store: strPtr("A"), Quantity: dec("1")})
		})

		It("never merges", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Rule).To(Equal(RuleStaged))
			got, _ := loadItem(db, "milk-a")
			Expect(got.Quantity.String()).To(Equal("1"))
			Expect(allItems(db)).To(HaveLen(2))
		})
	})

	When("the purchase does not exist", func() {
		JustBeforeEach(func() {
			outcome, err = service.Reconcile(ctx, testHousehold, "missing")
		})

		It("returns ErrPurchaseNotFound", func() {
			Expect(errors.Is(err, ErrPurchaseNotFound)).To(BeTrue())
		})
	})
})

var _ = Describe("QuantityToAdd", func() {
	DescribeTable("uses truncated units, defaulting to one",
		func(units *string, want string) {
			p := &household.Purchase{Count: dec("4")}
			if units != nil {
				p.Units = decPtr(*units)
			}
			Expect(QuantityToAdd(p).String()).To(Equal(want))
		},
		Entry("no units", nil, "1"),
		Entry("whole units", strPtr("3"), "3"),
		Entry("fractional units", strPtr("2.9"), "2"),
		Entry("less than one unit", strPtr("0.5"), "1"),
		Entry("zero units", strPtr("0"), "1"),
	)
})
