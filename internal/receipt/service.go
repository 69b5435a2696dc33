package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/zombor/pantry-tracker/internal/config"
	"github.com/zombor/pantry-tracker/internal/household"
	"github.com/zombor/pantry-tracker/internal/inventory"
	"github.com/zombor/pantry-tracker/internal/scanning"
)

var (
	ErrScanNotFound  = errors.New("scan not found")
	ErrStoreNotFound = errors.New("store not found")
	ErrInvalidName   = errors.New("name is required")
)

// Reconciler applies persisted purchases to the inventory
type Reconciler interface {
	Reconcile(ctx context.Context, householdID, purchaseID string) (*inventory.Outcome, error)
}

// Service runs the receipt pipeline from upload to confirmed purchases
type Service struct {
	db          household.DB
	scanner     scanning.Scanner
	storage     Storage
	reconciler  Reconciler
	normalizer  *Normalizer
	corrections *Corrections
	matcher     *Matcher
	ledger      *Ledger
	idGenerator household.IDGenerator
	timeSource  household.TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db household.DB, scanner scanning.Scanner, storage Storage, reconciler Reconciler, cfg *config.Config) *Service {
	return NewServiceWithDeps(db, scanner, storage, reconciler, cfg, household.UUIDGenerator{}, household.SystemClock{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db household.DB, scanner scanning.Scanner, storage Storage, reconciler Reconciler, cfg *config.Config, idGen household.IDGenerator, timeSrc household.TimeSource) *Service {
	corrections := NewCorrections(db, idGen, timeSrc)
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		reconciler:  reconciler,
		normalizer:  NewNormalizer(corrections, cfg.Normalize),
		corrections: corrections,
		matcher:     NewMatcher(db),
		ledger:      NewLedger(db, cfg.Budget, idGen, timeSrc),
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	spaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if unsafeChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(spaces.ReplaceAllString(base, " "))

	// Phones produce very long names
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}

// ScanReceipt stores an uploaded receipt image, extracts it and returns the
// normalized, matched preview. The image is removed again if extraction fails.
func (s *Service) ScanReceipt(ctx context.Context, householdID, filename string, data []byte, contentType string) (*Receipt, error) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedName, err := s.storage.Save(ctx, fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data, contentType)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	extracted, err := s.scanner.ScanReceipt(ctx, data, contentType)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		s.removeFile(ctx, savedName)
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}

	err = s.db.Update(ctx, func(tx household.Tx) error {
		return tx.SaveScan(&household.Scan{
			ID:          id,
			HouseholdID: householdID,
			Filename:    savedName,
			ContentType: contentType,
			CreatedAt:   now,
		})
	})
	if err != nil {
		s.removeFile(ctx, savedName)
		return nil, fmt.Errorf("saving scan: %w", err)
	}

	preview, err := s.Preview(ctx, householdID, extracted)
	if err != nil {
		return nil, err
	}
	preview.ScanID = id
	return preview, nil
}

func (s *Service) removeFile(ctx context.Context, name string) {
	if err := s.storage.Delete(ctx, name); err != nil {
		slog.Warn("Failed to delete file", "filename", name, "error", err)
	}
}

// Preview normalizes an extracted receipt and annotates its entity matches
func (s *Service) Preview(ctx context.Context, householdID string, extracted *scanning.ReceiptData) (*Receipt, error) {
	r, err := s.normalizer.Normalize(ctx, householdID, extracted)
	if err != nil {
		return nil, fmt.Errorf("normalizing receipt: %w", err)
	}
	s.matcher.Annotate(ctx, householdID, r)
	return r, nil
}

// GetScanFile retrieves the image behind a scan
func (s *Service) GetScanFile(ctx context.Context, householdID, id string) ([]byte, string, error) {
	var scan *household.Scan
	err := s.db.View(ctx, func(tx household.Tx) error {
		var err error
		scan, err = tx.GetScan(householdID, id)
		return err
	})
	if err != nil {
		if errors.Is(err, household.ErrNotFound) {
			return nil, "", fmt.Errorf("%w: %s", ErrScanNotFound, id)
		}
		return nil, "", fmt.Errorf("getting scan: %w", err)
	}

	data, err := s.storage.Get(ctx, scan.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting scan file: %w", err)
	}
	return data, scan.ContentType, nil
}

// StoreInput describes a store to get or create
type StoreInput struct {
	Name      string  `json:"name" validate:"required"`
	StoreCode *string `json:"store_code,omitempty"`
	Address   string  `json:"address"`
	City      string  `json:"city"`
	State     string  `json:"state"`
	Phone     string  `json:"phone"`
}

// EnsureStore returns the household store with in.Name, creating it if needed
func (s *Service) EnsureStore(ctx context.Context, householdID string, in StoreInput) (*household.Store, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrInvalidName
	}

	var store *household.Store
	err := s.db.Update(ctx, func(tx household.Tx) error {
		var err error
		store, err = tx.FindStoreByName(householdID, name)
		if !errors.Is(err, household.ErrNotFound) {
			return err
		}
		store = &household.Store{
			ID:          s.idGenerator.Generate(),
			HouseholdID: householdID,
			Name:        name,
			StoreCode:   in.StoreCode,
			Address:     in.Address,
			City:        in.City,
			State:       in.State,
			Phone:       in.Phone,
			CreatedAt:   s.timeSource.Now(),
		}
		return tx.SaveStore(store)
	})
	if err != nil {
		return nil, fmt.Errorf("ensuring store: %w", err)
	}
	return store, nil
}

// EnsureBrand returns the household brand called name, creating it if needed
func (s *Service) EnsureBrand(ctx context.Context, householdID, name string) (*household.Brand, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}

	var brand *household.Brand
	err := s.db.Update(ctx, func(tx household.Tx) error {
		var err error
		brand, err = tx.FindBrandByName(householdID, name)
		if !errors.Is(err, household.ErrNotFound) {
			return err
		}
		brand = &household.Brand{
			ID:          s.idGenerator.Generate(),
			HouseholdID: householdID,
			Name:        name,
			CreatedAt:   s.timeSource.Now(),
		}
		return tx.SaveBrand(brand)
	})
	if err != nil {
		return nil, fmt.Errorf("ensuring brand: %w", err)
	}
	return brand, nil
}

// EnsureUnit returns the household unit called name, creating it if needed
func (s *Service) EnsureUnit(ctx context.Context, householdID, name string) (*household.Unit, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}

	var unit *household.Unit
	err := s.db.Update(ctx, func(tx household.Tx) error {
		var err error
		unit, err = tx.FindUnitByName(householdID, name)
		if !errors.Is(err, household.ErrNotFound) {
			return err
		}
		unit = &household.Unit{
			ID:          s.idGenerator.Generate(),
			HouseholdID: householdID,
			Name:        name,
			CreatedAt:   s.timeSource.Now(),
		}
		return tx.SaveUnit(unit)
	})
	if err != nil {
		return nil, fmt.Errorf("ensuring unit: %w", err)
	}
	return unit, nil
}

// StopInput starts a store visit. A new trip is created when TripID is empty.
type StopInput struct {
	TripID    string    `json:"trip_id"`
	TripName  string    `json:"trip_name"`
	StoreID   *string   `json:"store_id,omitempty"`
	VisitedAt time.Time `json:"visited_at"`
}

// StartStop records a store visit that purchases can be confirmed against
func (s *Service) StartStop(ctx context.Context, householdID string, in StopInput) (*household.Stop, error) {
	now := s.timeSource.Now()
	visitedAt := in.VisitedAt
	if visitedAt.IsZero() {
		visitedAt = now
	}

	stop := &household.Stop{
		ID:          s.idGenerator.Generate(),
		HouseholdID: householdID,
		TripID:      in.TripID,
		StoreID:     in.StoreID,
		VisitedAt:   visitedAt,
		CreatedAt:   now,
	}

	err := s.db.Update(ctx, func(tx household.Tx) error {
		if stop.StoreID != nil {
			if _, err := tx.GetStore(householdID, *stop.StoreID); err != nil {
				if errors.Is(err, household.ErrNotFound) {
					return fmt.Errorf("%w: %s", ErrStoreNotFound, *stop.StoreID)
				}
				return err
			}
		}

		if stop.TripID == "" {
			name := strings.TrimSpace(in.TripName)
			if name == "" {
				name = "Shopping " + visitedAt.Format("2006-01-02")
			}
			trip := &household.Trip{
				ID:          s.idGenerator.Generate(),
				HouseholdID: householdID,
				Name:        name,
				Date:        visitedAt,
				CreatedAt:   now,
			}
			if err := tx.SaveTrip(trip); err != nil {
				return fmt.Errorf("saving trip: %w", err)
			}
			stop.TripID = trip.ID
		} else if _, err := tx.GetTrip(householdID, stop.TripID); err != nil {
			return fmt.Errorf("getting trip: %w", err)
		}

		return tx.SaveStop(stop)
	})
	if err != nil {
		return nil, fmt.Errorf("starting stop: %w", err)
	}
	return stop, nil
}

// ConfirmRequest carries the user-confirmed lines of one receipt
type ConfirmRequest struct {
	StopID string         `json:"stop_id" validate:"required"`
	Lines  []PurchaseLine `json:"lines" validate:"required,min=1,dive"`
}

// LineResult is the outcome of confirming one line. Purchase is set once the
// purchase is durable, even when reconciling it into the inventory failed.
type LineResult struct {
	Purchase  *household.Purchase `json:"purchase,omitempty"`
	Inventory *inventory.Outcome  `json:"inventory,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// ConfirmResult holds one LineResult per confirmed line, in order
type ConfirmResult struct {
	Lines []LineResult `json:"lines"`
}

// Confirm persists each line as a purchase and applies it to the inventory.
// Edits relative to the extracted values are learned as corrections once the
// line is recorded.
// Lines succeed or fail independently.
func (s *Service) Confirm(ctx context.Context, householdID, userID string, req ConfirmRequest) (*ConfirmResult, error) {
	err := s.db.View(ctx, func(tx household.Tx) error {
		_, err := tx.GetStop(householdID, req.StopID)
		return err
	})
	if err != nil {
		if errors.Is(err, household.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrStopNotFound, req.StopID)
		}
		return nil, fmt.Errorf("getting stop: %w", err)
	}

	result := &ConfirmResult{Lines: make([]LineResult, 0, len(req.Lines))}
	for _, line := range req.Lines {
		result.Lines = append(result.Lines, s.confirmLine(ctx, householdID, userID, req.StopID, line))
	}
	return result, nil
}

func (s *Service) confirmLine(ctx context.Context, householdID, userID, stopID string, line PurchaseLine) LineResult {
	purchase, err := s.ledger.Record(ctx, householdID, userID, stopID, line)
	if err != nil {
		slog.Error("Failed to record purchase", "item", line.Item, "error", err)
		return LineResult{Error: err.Error()}
	}
	s.learn(ctx, householdID, line)

	res := LineResult{Purchase: purchase}
	if s.reconciler == nil {
		return res
	}
	outcome, err := s.reconciler.Reconcile(ctx, householdID, purchase.ID)
	if err != nil {
		slog.Warn("Failed to reconcile purchase", "purchase", purchase.ID, "error", err)
		res.Error = fmt.Sprintf("reconciling inventory: %v", err)
		return res
	}
	res.Inventory = outcome
	return res
}

// learn writes a correction for every raw text behind an edited line
func (s *Service) learn(ctx context.Context, householdID string, line PurchaseLine) {
	if line.Original == nil {
		return
	}
	correction, changed := edits(*line.Original, line)
	if !changed {
		return
	}

	texts := line.SourceTexts
	if len(texts) == 0 {
		texts = []string{line.RawText}
	}
	for _, raw := range texts {
		if err := s.corrections.Record(ctx, householdID, raw, correction); err != nil {
			slog.Warn("Failed to record correction", "raw_text", raw, "error", err)
		}
	}
}
