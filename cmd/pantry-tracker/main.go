package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/pantry-tracker/internal/config"
	"github.com/zombor/pantry-tracker/internal/household"
	"github.com/zombor/pantry-tracker/internal/inventory"
	"github.com/zombor/pantry-tracker/internal/receipt"
	"github.com/zombor/pantry-tracker/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("pantry-tracker")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		configPath  = fs.StringLong("config", "", "TOML config file (optional)")
		dbPath      = fs.StringLong("db", "pantry-tracker.db", "BoltDB file path, used when --postgres-dsn is empty")
		postgresDSN = fs.StringLong("postgres-dsn", "", "PostgreSQL connection string (optional)")
		storageType = fs.StringLong("storage", "local", "Receipt image storage: 'local' or 's3'")
		storagePath = fs.StringLong("storage-path", "./receipts", "Local storage directory path")
		s3Bucket    = fs.StringLong("s3-bucket", "", "S3 bucket name")
		s3Prefix    = fs.StringLong("s3-prefix", "receipts", "S3 key prefix")
		s3Region    = fs.StringLong("s3-region", "", "S3 region")
		s3Endpoint  = fs.StringLong("s3-endpoint", "", "S3-compatible endpoint URL (optional)")
		s3AccessKey = fs.StringLong("s3-access-key", "", "S3 access key ID (optional)")
		s3SecretKey = fs.StringLong("s3-secret-key", "", "S3 secret access key (optional)")
		scannerType = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini' or 'ollama'")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, bakllava, qwen2-vl)")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("PANTRY_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	// Initialize database
	slog.Info("Initializing database...")
	var db household.DB
	if *postgresDSN != "" {
		db, err = household.NewPostgresDB(*postgresDSN)
	} else {
		db, err = household.NewBoltDB(*dbPath)
	}
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize scanner based on type
	var scanner scanning.Scanner
	switch *scannerType {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini scanner...", "model", *geminiModel)
		scanner, err = scanning.NewGemini(ctx, apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel)
		scanner, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer scanner.Close()

	// Initialize storage
	slog.Info("Initializing storage...", "type", *storageType)
	var store receipt.Storage
	switch *storageType {
	case "local":
		store, err = receipt.NewLocalStorage(*storagePath)
	case "s3":
		store, err = receipt.NewS3Storage(ctx, receipt.S3Config{
			Bucket:          *s3Bucket,
			Prefix:          *s3Prefix,
			Region:          *s3Region,
			Endpoint:        *s3Endpoint,
			AccessKeyID:     *s3AccessKey,
			SecretAccessKey: *s3SecretKey,
		})
	default:
		err = fmt.Errorf("unknown storage type %q", *storageType)
	}
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize services
	inventoryService := inventory.NewService(db, cfg.Inventory)
	receiptService := receipt.NewService(db, scanner, store, inventoryService, cfg)

	// Initialize server
	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(receiptService, inventoryService, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "merge_policy", cfg.Inventory.MergePolicy)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
