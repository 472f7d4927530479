package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across services, groups, and bookmarks
// using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultService {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'service'::text AS type, s.id, s.title,
				ts_headline('english', coalesce(s.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				s.url,
				ts_rank(s.fts, %s) AS rank
			FROM services s
			WHERE s.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultGroup {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'group'::text AS type, g.id, g.name AS title,
				ts_headline('english', coalesce(g.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS url,
				ts_rank(g.fts, %s) AS rank
			FROM groups g
			WHERE g.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	// Bookmarks are scoped to their owner; no viewer means no bookmark hits.
	if (q.FilterType == "" || q.FilterType == ResultBookmark) && q.UserID != "" {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'bookmark'::text AS type, b.id, b.name AS title,
				ts_headline('english', coalesce(b.url, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				b.url,
				ts_rank(b.fts, %s) AS rank
			FROM bookmarks b
			WHERE b.fts @@ %s AND b.user_id = $%d`, tsQuery, tsQuery, tsQuery, argN))
		args = append(args, q.UserID)
		argN++
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, url
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.URL); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ServiceRecord, []GroupRecord, []BookmarkRecord, error) {
	serviceRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, url, state
		FROM services
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load services: %w", err)
	}
	defer serviceRows.Close()

	services := make([]ServiceRecord, 0)
	for serviceRows.Next() {
		var s ServiceRecord
		if err := serviceRows.Scan(&s.ID, &s.Title, &s.Description, &s.URL, &s.State); err != nil {
			return nil, nil, nil, fmt.Errorf("scan service: %w", err)
		}
		services = append(services, s)
	}
	if err := serviceRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate services: %w", err)
	}

	groupRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, description
		FROM groups
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load groups: %w", err)
	}
	defer groupRows.Close()

	groups := make([]GroupRecord, 0)
	for groupRows.Next() {
		var g GroupRecord
		if err := groupRows.Scan(&g.ID, &g.Name, &g.Description); err != nil {
			return nil, nil, nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := groupRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate groups: %w", err)
	}

	bookmarkRows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, name, url, tag
		FROM bookmarks
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load bookmarks: %w", err)
	}
	defer bookmarkRows.Close()

	bookmarks := make([]BookmarkRecord, 0)
	for bookmarkRows.Next() {
		var b BookmarkRecord
		if err := bookmarkRows.Scan(&b.ID, &b.OwnerID, &b.Name, &b.URL, &b.Tag); err != nil {
			return nil, nil, nil, fmt.Errorf("scan bookmark: %w", err)
		}
		bookmarks = append(bookmarks, b)
	}
	if err := bookmarkRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate bookmarks: %w", err)
	}

	return services, groups, bookmarks, nil
}
