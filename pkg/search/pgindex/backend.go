// Package pgindex is the Postgres reference content index: metadata filters in
// SQL, literal matching with ILIKE, semantic matching with pgvector.
package pgindex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agentic-retrieval-be/internal/model"
	"agentic-retrieval-be/pkg/embedding"
	"agentic-retrieval-be/pkg/rag/query"
	"agentic-retrieval-be/pkg/search"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultCount = 10
	snippetLen   = 280
	// minSimilarity drops vectors that are nearer to noise than to the query.
	minSimilarity = 0.35
)

type Backend struct {
	db       *gorm.DB
	embedder embedding.EmbeddingProvider
}

var _ search.Backend = &Backend{}

func NewBackend(db *gorm.DB, embedder embedding.EmbeddingProvider) *Backend {
	return &Backend{db: db, embedder: embedder}
}

const columns = "id, app, entity, title, body, fields, permission_scope, occurred_at"

type scoredItem struct {
	Id              string
	App             string
	Entity          string
	Title           string
	Body            string
	Fields          datatypes.JSONMap
	PermissionScope string
	OccurredAt      time.Time
	Similarity      float64
}

func (b *Backend) Search(ctx context.Context, req search.Request) (*search.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	count := req.Count
	if count == 0 {
		count = defaultCount
	}

	base := func() *gorm.DB {
		return b.applyFilters(b.db.WithContext(ctx).Model(&model.ContentItem{}), req)
	}

	var rows []scoredItem
	var total int64

	switch {
	case req.Mode == search.ModeContent && search.DetermineStrategy(req.Query) == search.StrategySemantic && b.embedder != nil:
		vec, err := b.embedder.Embed(ctx, req.Query)
		if err != nil {
			return nil, fmt.Errorf("%w: embed query: %v", search.ErrUnavailable, err)
		}
		queryVector := pgvector.NewVector(vec)

		if err := base().
			Where("1 - (embedding_value <=> ?) >= ?", queryVector, minSimilarity).
			Count(&total).Error; err != nil {
			return nil, unavailable(err)
		}

		err = base().
			Select(columns+", 1 - (embedding_value <=> ?) as similarity", queryVector).
			Where("1 - (embedding_value <=> ?) >= ?", queryVector, minSimilarity).
			Order("similarity DESC").
			Offset(req.Offset).
			Limit(count).
			Scan(&rows).Error
		if err != nil {
			return nil, unavailable(err)
		}

	default:
		literal := func(db *gorm.DB) *gorm.DB {
			if req.Mode != search.ModeContent {
				return db
			}
			pattern := "%" + strings.Trim(req.Query, `"`) + "%"
			return db.Where("(title ILIKE ? OR body ILIKE ? OR fields::text ILIKE ?)", pattern, pattern, pattern)
		}

		if err := literal(base()).Count(&total).Error; err != nil {
			return nil, unavailable(err)
		}

		err := literal(base()).
			Select(columns).
			Order(clause.OrderByColumn{Column: clause.Column{Name: "occurred_at"}, Desc: !ascending(req)}).
			Offset(req.Offset).
			Limit(count).
			Scan(&rows).Error
		if err != nil {
			return nil, unavailable(err)
		}
	}

	resp := &search.Response{Total: int(total), Items: make([]search.Item, 0, len(rows))}
	for _, r := range rows {
		score := r.Similarity
		if score == 0 {
			score = 1
		}
		resp.Items = append(resp.Items, search.Item{
			ID:              r.Id,
			App:             query.App(r.App),
			Entity:          query.Entity(r.Entity),
			Title:           r.Title,
			Snippet:         snippet(r.Body),
			Fields:          map[string]interface{}(r.Fields),
			Timestamp:       r.OccurredAt,
			PermissionScope: r.PermissionScope,
			Score:           score,
		})
	}
	return resp, nil
}

func (b *Backend) applyFilters(db *gorm.DB, req search.Request) *gorm.DB {
	// Owner scoping is the permission boundary of this reference index.
	db = db.Where("owner_id = ?", req.Scope.UserID)

	if len(req.Apps) > 0 {
		db = db.Where("app IN ?", toStrings(req.Apps))
	}
	if len(req.Entities) > 0 {
		db = db.Where("entity IN ?", toStrings(req.Entities))
	}
	if len(req.Exclude) > 0 {
		db = db.Where("id NOT IN ?", req.Exclude)
	}
	if req.StartTime != nil {
		db = db.Where("occurred_at >= ?", *req.StartTime)
	}
	if req.EndTime != nil {
		db = db.Where("occurred_at < ?", *req.EndTime)
	}

	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	switch req.Temporal {
	case query.TemporalNext:
		db = db.Where("occurred_at >= ?", now)
	case query.TemporalPrev:
		db = db.Where("occurred_at < ?", now)
	}

	if p := req.Participants; !p.IsEmpty() {
		db = b.participantFilter(db, "from", p.From)
		db = b.participantFilter(db, "to", p.To)
		db = b.participantFilter(db, "cc", p.Cc)
		db = b.participantFilter(db, "bcc", p.Bcc)
	}
	return db
}

func (b *Backend) participantFilter(db *gorm.DB, field string, values []string) *gorm.DB {
	if len(values) == 0 {
		return db
	}
	group := b.db.Session(&gorm.Session{NewDB: true})
	for i, v := range values {
		if i == 0 {
			group = group.Where("fields->>? ILIKE ?", field, "%"+v+"%")
		} else {
			group = group.Or("fields->>? ILIKE ?", field, "%"+v+"%")
		}
	}
	return db.Where(group)
}

// Upsert writes items and their embeddings, replacing rows with the same id.
func (b *Backend) Upsert(ctx context.Context, owner string, items ...search.Item) error {
	if len(items) == 0 {
		return nil
	}
	rows := make([]*model.ContentItem, 0, len(items))
	for _, it := range items {
		row := &model.ContentItem{
			Id:              it.ID,
			OwnerId:         owner,
			App:             string(it.App),
			Entity:          string(it.Entity),
			Title:           it.Title,
			Body:            it.Snippet,
			Fields:          it.Fields,
			PermissionScope: it.PermissionScope,
			OccurredAt:      it.Timestamp,
		}
		if b.embedder != nil {
			vec, err := b.embedder.Embed(ctx, it.Title+"\n"+it.Snippet)
			if err != nil {
				return fmt.Errorf("embed %s: %w", it.ID, err)
			}
			row.EmbeddingValue = pgvector.NewVector(vec)
		}
		rows = append(rows, row)
	}
	return b.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(rows).Error
}

func ascending(req search.Request) bool {
	switch {
	case req.Sort == query.SortAsc:
		return true
	case req.Sort == query.SortDesc:
		return false
	case req.Temporal == query.TemporalNext:
		return true
	}
	return false
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", search.ErrUnavailable, err)
}

func snippet(body string) string {
	body = strings.TrimSpace(body)
	if len(body) <= snippetLen {
		return body
	}
	return body[:snippetLen] + "..."
}

func toStrings[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}
