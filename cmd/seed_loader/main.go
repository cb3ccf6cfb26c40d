package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/lcalzada-xor/vulnintel/internal/adapters/feeds"
	"github.com/lcalzada-xor/vulnintel/internal/adapters/storage"
)

func main() {
	seedFile := flag.String("seed-file", "./configs/seed.json", "Path to seed JSON file")
	dbPath := flag.String("db-path", "./data/threat_intel.db", "Path to intel database")
	flag.Parse()

	log.Println("=== Intel Seed Loader ===")
	log.Printf("Seed file: %s", *seedFile)
	log.Printf("Database: %s", *dbPath)

	// Ensure data directory exists
	if err := os.MkdirAll(filepath.Dir(*dbPath), 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	store, err := storage.NewSQLiteAdapter(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	res, err := feeds.NewSeedLoader(store).LoadFromFile(ctx, *seedFile)
	if err != nil {
		log.Fatalf("Failed to load seed data: %v", err)
	}
	log.Printf("Applied %d of %d records (%d kept, %d dropped)", res.Applied, res.Received, res.Skipped, res.Dropped)

	stats, err := store.CoverageStats(ctx)
	if err != nil {
		log.Fatalf("Failed to read coverage: %v", err)
	}
	log.Printf("Database now contains %d CVEs, %d with EPSS scores", stats.TotalVulnerabilities, stats.WithScore)
}
