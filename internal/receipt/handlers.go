package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/pantry-tracker/internal/household"
	"github.com/zombor/pantry-tracker/internal/inventory"
	"github.com/zombor/pantry-tracker/internal/scanning"
)

// maxUploadSize is large enough for high-resolution phone photos
const maxUploadSize = int64(50 << 20)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Household-ID, X-User-ID")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// jsonError writes {"error": message} with the given status
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// writeJSON encodes v as the response body
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrScanNotFound),
		errors.Is(err, ErrStopNotFound),
		errors.Is(err, ErrStoreNotFound),
		errors.Is(err, ErrFileNotFound),
		errors.Is(err, inventory.ErrSheetNotFound),
		errors.Is(err, inventory.ErrItemNotFound),
		errors.Is(err, household.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidName),
		errors.Is(err, ErrInvalidPurchase),
		errors.Is(err, inventory.ErrInvalidAmount),
		errors.Is(err, inventory.ErrInvalidMode),
		errors.Is(err, inventory.ErrSameSheet),
		errors.Is(err, inventory.ErrInvalidSheet),
		errors.Is(err, inventory.ErrInvalidItem):
		return http.StatusBadRequest
	case errors.Is(err, household.ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// serviceError logs unexpected failures and writes the mapped response
func serviceError(w http.ResponseWriter, action string, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		slog.Error("Error "+action, "error", err)
		jsonError(w, "Internal server error", code)
		return
	}
	jsonError(w, err.Error(), code)
}

// decode reads a JSON body into v and validates it
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// uploadContentType trusts the part's declared type, falling back to the file extension
func uploadContentType(declared, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(declared))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			return byExt
		}
	}
	return "application/octet-stream"
}

// handleScan accepts a receipt image and returns its preview
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request, householdID, _ string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, "File is too large. Maximum size is 50MB. Please compress or resize your image.", http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "No file was selected. Please choose a file to upload.", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	contentType := uploadContentType(header.Header.Get("Content-Type"), header.Filename)
	preview, err := s.service.ScanReceipt(r.Context(), householdID, header.Filename, data, contentType)
	if err != nil {
		slog.Error("Error processing receipt", "filename", header.Filename, "error", err)
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, preview)
}

// handleGetScanFile returns the image behind a scan
func (s *Server) handleGetScanFile(w http.ResponseWriter, r *http.Request, householdID, _ string) {
	data, contentType, err := s.service.GetScanFile(r.Context(), householdID, r.PathValue("id"))
	if err != nil {
		serviceError(w, "getting scan file", err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handlePreview normalizes an extraction produced elsewhere
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request, householdID, _ string) {
	var extracted scanning.ReceiptData
	if !s.decode(w, r, &extracted) {
		return
	}

	preview, err := s.service.Preview(r.Context(), householdID, &extracted)
	if err != nil {
		serviceError(w, "previewing receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// handleConfirm persists confirmed receipt lines
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request, householdID, userID string) {
	var req ConfirmRequest
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.service.Confirm(r.Context(), householdID, userID, req)
	if err != nil {
		serviceError(w, "confirming purchases", err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleEnsureStore(w http.ResponseWriter, r *http.Request, householdID, _ string) {
	var req StoreInput
	if !s.decode(w, r, &req) {
		return
	}
	store, err := s.service.EnsureStore(r.Context(), householdID, req)
	if err != nil {
		serviceError(w, "ensuring store", err)
		return
	}
	writeJSON(w, http.StatusOK, store)
}

type nameRequest struct {
	Name string `json:"name" validate:"required"`
}

func (s *Server) handleEnsureBrand(w http.ResponseWriter, r *http.Request, householdID, _ string) {
	var req nameRequest
	if !s.decode(w, r, &req) {
		return
	}
	brand, err := s.service.EnsureBrand(r.Context(), householdID, req.Name)
	if err != nil {
		serviceError(w, "ensuring brand", err)
		return
	}
	writeJSON(w, http.StatusOK, brand)
}

func (s *Server) handleEnsureUnit(w http.ResponseWriter, r *http.Request, householdID, _ string) {
	var req nameRequest
	if !s.decode(w, r, &req) {
		return
	}
	unit, err := s.service.EnsureUnit(r.Context(), householdID, req.Name)
	if err != nil {
		serviceError(w, "ensuring unit", err)
		return
	}
	writeJSON(w, http.StatusOK, unit)
}

func (s *Server) handleStartStop(w http.ResponseWriter, r *http.Request, householdID, _ string) {
	var req StopInput
	if !s.decode(w, r, &req) {
		return
	}
	stop, err := s.service.StartStop(r.Context(), householdID, req)
	if err != nil {
		serviceError(w, "starting stop", err)
		return
	}
	writeJSON(w, http.StatusCreated, stop)
}

func (s *Server) handleListSheets(w http.ResponseWriter, r *http.Request, householdID, _ string) {
	sheets, err := s.inventory.ListSheets(r.Context(), householdID)
	if err != nil {
		serviceError(w, "listing sheets", err)
		return
	}
	writeJSON(w, http.StatusOK, sheets)
}

func (s *Server) handleCreateSheet(w http.ResponseWriter, r *http.Request, householdID, userID string) {
	var req nameRequest
	if !s.decode(w, r, &req) {
		return
	}
	sheet, err := s.inventory.CreateSheet(r.Context(), householdID, userID, req.Name)
	if err != nil {
		serviceError(w, "creating sheet", err)
		return
	}
	writeJSON(w, http.StatusCreated, sheet)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request, householdID, _ string) {
	items, err := s.inventory.ListItems(r.Context(), householdID, r.PathValue("id"))
	if err != nil {
		serviceError(w, "listing items", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request, householdID, _ string) {
	var req inventory.ItemInput
	if !s.decode(w, r, &req) {
		return
	}
	item, err := s.inventory.CreateItem(r.Context(), householdID, r.PathValue("id"), req)
	if err != nil {
		serviceError(w, "creating item", err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// handleTransfer moves stock of one item to another sheet
func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request, householdID, _ string) {
	var req inventory.TransferRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.ItemID = r.PathValue("id")

	result, err := s.inventory.Transfer(r.Context(), householdID, req)
	if err != nil {
		serviceError(w, "transferring item", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request, householdID, _ string) {
	suggestions, err := s.inventory.Suggestions(r.Context(), householdID)
	if err != nil {
		serviceError(w, "computing suggestions", err)
		return
	}
	writeJSON(w, http.StatusOK, suggestions)
}

func (s *Server) handleShoppingList(w http.ResponseWriter, r *http.Request, householdID, _ string) {
	entries, err := s.inventory.ShoppingList(r.Context(), householdID)
	if err != nil {
		serviceError(w, "listing shopping list", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAddToShoppingList(w http.ResponseWriter, r *http.Request, householdID, _ string) {
	var req inventory.ShoppingInput
	if !s.decode(w, r, &req) {
		return
	}
	entry, err := s.inventory.AddToShoppingList(r.Context(), householdID, req)
	if err != nil {
		serviceError(w, "adding to shopping list", err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}
