package receipt

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/zombor/pantry-tracker/internal/household"
)

// Matcher resolves receipt names against a household's stores, brands and
// units. It only annotates; it never creates entities and never fails.
type Matcher struct {
	db household.DB
}

// NewMatcher creates a Matcher over db
func NewMatcher(db household.DB) *Matcher {
	return &Matcher{db: db}
}

// Annotate sets the store, brand and unit matches of r
func (m *Matcher) Annotate(ctx context.Context, householdID string, r *Receipt) {
	r.Store.Match = m.MatchStore(ctx, householdID, r.Store.Name, r.Store.StoreCode)

	// Receipts repeat brands and units; look each name up once
	brands := make(map[string]*Match)
	units := make(map[string]*Match)
	for i := range r.Lines {
		line := &r.Lines[i]
		line.BrandMatch = cached(brands, line.Brand, func() *Match {
			return m.MatchBrand(ctx, householdID, line.Brand)
		})
		line.UnitMatch = cached(units, line.Unit, func() *Match {
			return m.MatchUnit(ctx, householdID, line.Unit)
		})
	}
}

func cached(seen map[string]*Match, name string, lookup func() *Match) *Match {
	key := household.Key(name)
	if match, ok := seen[key]; ok {
		return match
	}
	match := lookup()
	seen[key] = match
	return match
}

// MatchStore looks a store up by name, then by store code. It returns nil
// when there is nothing to match on.
func (m *Matcher) MatchStore(ctx context.Context, householdID, name string, storeCode *string) *Match {
	hasCode := storeCode != nil && strings.TrimSpace(*storeCode) != ""
	if strings.TrimSpace(name) == "" && !hasCode {
		return nil
	}

	var store *household.Store
	err := m.db.View(ctx, func(tx household.Tx) error {
		var err error
		store, err = tx.FindStoreByName(householdID, name)
		if errors.Is(err, household.ErrNotFound) && hasCode {
			store, err = tx.FindStoreByCode(householdID, *storeCode)
		}
		return err
	})
	if err != nil {
		return unmatched("store", name, err)
	}
	return &Match{ID: store.ID}
}

// MatchBrand looks a brand up by name
func (m *Matcher) MatchBrand(ctx context.Context, householdID, name string) *Match {
	if strings.TrimSpace(name) == "" {
		return nil
	}
	var brand *household.Brand
	err := m.db.View(ctx, func(tx household.Tx) error {
		var err error
		brand, err = tx.FindBrandByName(householdID, name)
		return err
	})
	if err != nil {
		return unmatched("brand", name, err)
	}
	return &Match{ID: brand.ID}
}

// MatchUnit looks a unit up by name
func (m *Matcher) MatchUnit(ctx context.Context, householdID, name string) *Match {
	if strings.TrimSpace(name) == "" {
		return nil
	}
	var unit *household.Unit
	err := m.db.View(ctx, func(tx household.Tx) error {
		var err error
		unit, err = tx.FindUnitByName(householdID, name)
		return err
	})
	if err != nil {
		return unmatched("unit", name, err)
	}
	return &Match{ID: unit.ID}
}

// unmatched reports a failed lookup as a new entity
func unmatched(kind, name string, err error) *Match {
	if !errors.Is(err, household.ErrNotFound) {
		slog.Warn("Entity lookup failed", "kind", kind, "name", name, "error", err)
	}
	return &Match{IsNew: true}
}
