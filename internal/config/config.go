package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/pelletier/go-toml/v2"
)

const (
	// MergePolicyAuto merges purchases into matching inventory items
	MergePolicyAuto = "auto"
	// MergePolicyStage puts every purchase into the purchases sheet for manual review
	MergePolicyStage = "stage"
)

// Config holds the pipeline settings read from the TOML file
type Config struct {
	Normalize NormalizeConfig `toml:"normalize"`
	Inventory InventoryConfig `toml:"inventory"`
	Budget    BudgetConfig    `toml:"budget"`
}

// NormalizeConfig controls receipt normalization
type NormalizeConfig struct {
	// Acronyms stay upper-case when ALL-CAPS text is title-cased
	Acronyms       []string `toml:"acronyms"`
	MergeSeparator string   `toml:"merge_separator"`
}

// InventoryConfig controls purchase reconciliation
type InventoryConfig struct {
	MergePolicy    string `toml:"merge_policy"`
	PurchasesSheet string `toml:"purchases_sheet"`
	// StockByUsage makes matched count-mode items gain containers instead of
	// quantity. Off by default: every match adds to quantity.
	StockByUsage bool `toml:"stock_by_usage"`
}

// BudgetConfig controls the budget entries written for purchases
type BudgetConfig struct {
	Currency string `toml:"currency"`
	Category string `toml:"category"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Normalize: NormalizeConfig{
			Acronyms: []string{
				"TV", "USB", "LED", "HDMI", "BBQ", "USA", "XL", "XXL", "AA", "AAA",
				"OJ", "PB", "GF", "DVD", "PC", "UPC", "SPF", "IPA",
			},
			MergeSeparator: " | ",
		},
		Inventory: InventoryConfig{
			MergePolicy:    MergePolicyAuto,
			PurchasesSheet: "Purchases",
		},
		Budget: BudgetConfig{
			Currency: "USD",
			Category: "Groceries",
		},
	}
}

// Load reads path over the defaults. An empty path or a missing file yields
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that enumerated settings hold known values
func (c *Config) Validate() error {
	switch c.Inventory.MergePolicy {
	case MergePolicyAuto, MergePolicyStage:
	default:
		return fmt.Errorf("invalid merge policy %q: want %q or %q", c.Inventory.MergePolicy, MergePolicyAuto, MergePolicyStage)
	}
	if strings.TrimSpace(c.Inventory.PurchasesSheet) == "" {
		return fmt.Errorf("purchases sheet name is required")
	}
	if money.GetCurrency(c.Budget.Currency) == nil {
		return fmt.Errorf("unknown currency %q", c.Budget.Currency)
	}
	return nil
}
