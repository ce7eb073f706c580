// Command seed loads content items from a JSON file into the pgvector
// content index, embedding them on the way in.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"agentic-retrieval-be/internal/config"
	"agentic-retrieval-be/pkg/database"
	"agentic-retrieval-be/pkg/embedding"
	"agentic-retrieval-be/pkg/rag/query"
	"agentic-retrieval-be/pkg/search"
	"agentic-retrieval-be/pkg/search/pgindex"
	"agentic-retrieval-be/pkg/utils"
)

const (
	chunkSize    = 1500
	chunkOverlap = 200
)

type seedItem struct {
	ID              string                 `json:"id"`
	Owner           string                 `json:"owner"`
	App             string                 `json:"app"`
	Entity          string                 `json:"entity"`
	Title           string                 `json:"title"`
	Body            string                 `json:"body"`
	Fields          map[string]interface{} `json:"fields"`
	PermissionScope string                 `json:"permission_scope"`
	Timestamp       time.Time              `json:"timestamp"`
}

func main() {
	file := flag.String("file", "", "JSON array of content items")
	flag.Parse()
	if *file == "" {
		log.Fatal("Error: -file is required")
	}

	cfg := config.Load()
	db, err := database.NewGormDBFromDSN(cfg.Database.Connection, database.DefaultOptions())
	if err != nil {
		log.Fatal("Error: Failed to connect to database:", err)
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("Error: read %s: %v", *file, err)
	}
	var items []seedItem
	if err := json.Unmarshal(raw, &items); err != nil {
		log.Fatalf("Error: parse %s: %v", *file, err)
	}

	embedder := embedding.NewOllamaProvider(cfg.Ai.OllamaBaseURL, cfg.Ai.EmbeddingModel)
	backend := pgindex.NewBackend(db, embedder)

	ctx := context.Background()
	byOwner := make(map[string][]search.Item)
	for _, it := range items {
		converted, err := toSearchItems(it)
		if err != nil {
			log.Printf("Skipping %s: %v", it.ID, err)
			continue
		}
		byOwner[it.Owner] = append(byOwner[it.Owner], converted...)
	}

	total := 0
	for owner, batch := range byOwner {
		if err := backend.Upsert(ctx, owner, batch...); err != nil {
			log.Fatalf("Error: upsert for %s: %v", owner, err)
		}
		total += len(batch)
		log.Printf("Seeded %d rows for owner %s", len(batch), owner)
	}
	log.Printf("Done: %d rows", total)
}

// toSearchItems splits long bodies so each row fits the embedding model;
// chunks after the first get an "#n" id suffix.
func toSearchItems(it seedItem) ([]search.Item, error) {
	if it.ID == "" || it.Owner == "" {
		return nil, fmt.Errorf("id and owner are required")
	}
	app, ok := query.ParseApp(it.App)
	if !ok {
		return nil, fmt.Errorf("unknown app %q", it.App)
	}

	chunks := utils.SplitText(it.Body, chunkSize, chunkOverlap)
	out := make([]search.Item, 0, len(chunks))
	for i, chunk := range chunks {
		id := it.ID
		if i > 0 {
			id = fmt.Sprintf("%s#%d", it.ID, i)
		}
		out = append(out, search.Item{
			ID:              id,
			App:             app,
			Entity:          query.Entity(it.Entity),
			Title:           it.Title,
			Snippet:         chunk,
			Fields:          it.Fields,
			PermissionScope: it.PermissionScope,
			Timestamp:       it.Timestamp,
		})
	}
	return out, nil
}
