package main

import (
	"encoding/json/v2"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/readaloudapp/readaloud-server/internal/domain"
)

func main() {
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = os.ExpandEnv("$HOME/ReadAloud/cache/db")
	}

	opts := badger.DefaultOptions(dbPath).
		WithReadOnly(true).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	fmt.Println("=== Cache Inspection ===")
	fmt.Println()

	entryCount := 0
	var totalBytes int64
	var totalDuration float64
	chapters := make(map[string]int)
	shown := 0

	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("entry:")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte("entry:")); it.ValidForPrefix([]byte("entry:")); it.Next() {
			item := it.Item()
			key := string(item.Key())

			// Skip index keys
			if strings.HasPrefix(key, "entry:idx:") {
				continue
			}

			err := item.Value(func(val []byte) error {
				var entry domain.CacheEntry
				if err := json.Unmarshal(val, &entry); err != nil {
					return err
				}

				entryCount++
				totalBytes += entry.SizeBytes
				totalDuration += entry.DurationSeconds
				if entry.ChapterID != "" {
					chapters[entry.ChapterID]++
				}

				// Show the first few entries in detail
				if shown < 5 {
					shown++
					fmt.Printf("Entry: %s\n", entry.ID)
					fmt.Printf("  Chapter: %s\n", entry.ChapterID)
					fmt.Printf("  Voice: %s (speed %.2f, temp %.2f)\n",
						entry.VoiceID, entry.Settings.Speed, entry.Settings.Temperature)
					fmt.Printf("  Span: chars %d-%d, %.1f sec, %d bytes\n",
						entry.StartPosition, entry.EndPosition,
						entry.DurationSeconds, entry.SizeBytes)
					fmt.Printf("  Accessed: %d times, last %s\n",
						entry.AccessCount, entry.LastAccessedAt.Format("2006-01-02 15:04:05"))
					fmt.Println()
				}

				return nil
			})
			if err != nil {
				log.Printf("Error reading entry %s: %v", key, err)
			}
		}
		return nil
	})

	if err != nil {
		log.Fatalf("Error iterating database: %v", err)
	}

	fmt.Println("=== Summary ===")
	fmt.Printf("Total entries: %d\n", entryCount)
	fmt.Printf("Total audio: %.1f MB (%.1f minutes)\n",
		float64(totalBytes)/(1024*1024), totalDuration/60)
	fmt.Printf("Chapters represented: %d\n", len(chapters))
	if entryCount > 0 {
		fmt.Printf("Average entry size: %.1f KB\n",
			float64(totalBytes)/float64(entryCount)/1024)
	}
}
