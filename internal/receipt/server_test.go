package receipt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/pantry-tracker/internal/config"
	"github.com/zombor/pantry-tracker/internal/household"
	"github.com/zombor/pantry-tracker/internal/inventory"
)

var _ = Describe("Server", func() {
	var (
		ctx         context.Context
		db          household.DB
		service     *Service
		inv         *inventory.Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server = NewServerWithMux(service, inv, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	}

	// do sends one request as household-1
	do := func(method, path, body string, header http.Header) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, strings.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set(householdHeader, testHousehold)
		req.Header.Set(userHeader, "user-1")
		req.Header.Set("Content-Type", "application/json")
		for k, v := range header {
			req.Header[k] = v
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	decodeBody := func(resp *http.Response, v any) {
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(body, v)).To(Succeed())
	}

	BeforeEach(func() {
		ctx = context.Background()
		db = newTestDB()
		cfg := config.Default()
		idGen := &sequentialIDs{}
		timeSrc := &mockTimeSource{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)}
		inv = inventory.NewServiceWithDeps(db, cfg.Inventory, idGen, timeSrc)
		service = NewServiceWithDeps(db, newMockScanner(), newMockStorage(), inv, cfg, idGen, timeSrc)
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
			ghttpServer = nil
		}
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
			setupServer()
		})

		It("should reject requests without credentials", func() {
			resp := do("GET", "/api/sheets", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("should accept valid credentials", func() {
			creds := base64.StdEncoding.EncodeToString([]byte("admin:secret"))
			resp := do("GET", "/api/sheets", "", http.Header{"Authorization": {"Basic " + creds}})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should reject a wrong password", func() {
			creds := base64.StdEncoding.EncodeToString([]byte("admin:nope"))
			resp := do("GET", "/api/sheets", "", http.Header{"Authorization": {"Basic " + creds}})
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			resp := do("OPTIONS", "/api/sheets", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Allow-Headers")).To(ContainSubstring(householdHeader))
		})
	})

	Describe("household header", func() {
		It("should be required", func() {
			resp := do("GET", "/api/sheets", "", http.Header{householdHeader: {""}})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /api/scans", func() {
		upload := func(field string) *http.Response {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			part, err := mw.CreateFormFile(field, "receipt.jpg")
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write([]byte("fake image data"))
			Expect(err).NotTo(HaveOccurred())
			Expect(mw.Close()).To(Succeed())
			return do("POST", "/api/scans", buf.String(), http.Header{"Content-Type": {mw.FormDataContentType()}})
		}

		It("should return the preview", func() {
			resp := upload("file")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var preview Receipt
			decodeBody(resp, &preview)
			Expect(preview.ScanID).NotTo(BeEmpty())
			Expect(preview.Lines).To(HaveLen(1))
		})

		It("should require a file", func() {
			resp := upload("other")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /api/scans/{id}/file", func() {
		It("should return 404 for an unknown scan", func() {
			resp := do("GET", "/api/scans/missing/file", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("POST /api/receipts/preview", func() {
		It("should normalize the posted extraction", func() {
			resp := do("POST", "/api/receipts/preview", `{"store":{"name":"CORNER MARKET"},"items":[{"raw_text":"X","item":"MILK","quantity":"2","total_price":3.5}]}`, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var preview Receipt
			decodeBody(resp, &preview)
			Expect(preview.Store.Name).To(Equal("Corner Market"))
			Expect(preview.Lines[0].Quantity).To(Equal(2))
		})

		It("should accept numeric store codes", func() {
			resp := do("POST", "/api/receipts/preview", `{"store":{"name":"Corner Market","store_code":42},"items":[{"raw_text":"MILK","item":"Milk","store_code":4011,"total_price":3.5}]}`, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var preview Receipt
			decodeBody(resp, &preview)
			Expect(preview.Store.StoreCode).To(HaveValue(Equal("42")))
			Expect(preview.Lines[0].StoreCode).To(HaveValue(Equal("4011")))
		})

		It("should reject malformed JSON", func() {
			resp := do("POST", "/api/receipts/preview", `{`, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /api/purchases", func() {
		It("should reject a request without lines", func() {
			resp := do("POST", "/api/purchases", `{"stop_id":"stop-1","lines":[]}`, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should return 404 for an unknown stop", func() {
			resp := do("POST", "/api/purchases", `{"stop_id":"missing","lines":[{"item":"Bread"}]}`, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should confirm the lines", func() {
			stopID := seedStop(db, nil)
			resp := do("POST", "/api/purchases", `{"stop_id":"`+stopID+`","lines":[{"brand":"Moo","item":"Milk","count":"1","total_price":"3.49"}]}`, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var result ConfirmResult
			decodeBody(resp, &result)
			Expect(result.Lines).To(HaveLen(1))
			Expect(result.Lines[0].Purchase.Item).To(Equal("Milk"))
			Expect(result.Lines[0].Inventory.Created).To(BeTrue())
		})
	})

	Describe("POST /api/stores", func() {
		It("should require a name", func() {
			resp := do("POST", "/api/stores", `{"name":""}`, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should return the store", func() {
			resp := do("POST", "/api/stores", `{"name":"Corner Market","store_code":"CM-01"}`, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var store household.Store
			decodeBody(resp, &store)
			Expect(store.Name).To(Equal("Corner Market"))
		})
	})

	Describe("POST /api/stops", func() {
		It("should return 404 for an unknown store", func() {
			resp := do("POST", "/api/stops", `{"store_id":"missing"}`, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("sheets", func() {
		It("should create a sheet", func() {
			resp := do("POST", "/api/sheets", `{"name":"Pantry"}`, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var sheet household.InventorySheet
			decodeBody(resp, &sheet)
			Expect(sheet.OwnerID).To(Equal("user-1"))
		})

		It("should report a duplicate sheet as a conflict", func() {
			_, err := inv.CreateSheet(ctx, testHousehold, "user-1", "Pantry")
			Expect(err).NotTo(HaveOccurred())
			resp := do("POST", "/api/sheets", `{"name":"pantry"}`, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})

		It("should return 404 listing items of an unknown sheet", func() {
			resp := do("GET", "/api/sheets/missing/items", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("POST /api/items/{id}/transfer", func() {
		var pantry, freezer *household.InventorySheet

		BeforeEach(func() {
			var err error
			pantry, err = inv.CreateSheet(ctx, testHousehold, "user-1", "Pantry")
			Expect(err).NotTo(HaveOccurred())
			freezer, err = inv.CreateSheet(ctx, testHousehold, "user-1", "Freezer")
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return 404 for an unknown item", func() {
			resp := do("POST", "/api/items/missing/transfer", `{"target_sheet_id":"`+freezer.ID+`","amount":"1","mode":"count"}`, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should require a target sheet", func() {
			resp := do("POST", "/api/items/any/transfer", `{"amount":"1","mode":"count"}`, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should move stock", func() {
			item, err := inv.CreateItem(ctx, testHousehold, pantry.ID, inventory.ItemInput{
				Name:      "Peas",
				Quantity:  dec("3"),
				UsageMode: household.UsageQuantity,
			})
			Expect(err).NotTo(HaveOccurred())

			resp := do("POST", "/api/items/"+item.ID+"/transfer", `{"target_sheet_id":"`+freezer.ID+`","amount":"1","mode":"quantity"}`, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var result inventory.TransferResult
			decodeBody(resp, &result)
			Expect(result.Source.Quantity.Equal(dec("2"))).To(BeTrue())
			Expect(result.Target.SheetID).To(Equal(freezer.ID))
		})

		It("should reject moving more than is available", func() {
			item, err := inv.CreateItem(ctx, testHousehold, pantry.ID, inventory.ItemInput{Name: "Peas", Quantity: dec("1")})
			Expect(err).NotTo(HaveOccurred())

			resp := do("POST", "/api/items/"+item.ID+"/transfer", `{"target_sheet_id":"`+freezer.ID+`","amount":"5","mode":"quantity"}`, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("shopping", func() {
		It("should list suggestions", func() {
			resp := do("GET", "/api/shopping/suggestions", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var suggestions []inventory.Suggestion
			decodeBody(resp, &suggestions)
			Expect(suggestions).To(BeEmpty())
		})

		It("should add an entry", func() {
			resp := do("POST", "/api/shopping", `{"name":"Milk","amount":"2"}`, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		})

		It("should reject an entry without a name", func() {
			resp := do("POST", "/api/shopping", `{"amount":"2"}`, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})
})
