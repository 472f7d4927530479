package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"atrium/api/internal/logger"
	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxServices  = "atrium_services"
	idxGroups    = "atrium_groups"
	idxBookmarks = "atrium_bookmarks"
)

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	log     logger.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. The client
// starts unhealthy if the initial connection fails and recovers via the
// background health loop.
func NewMeili(url, apiKey string, log logger.Logger) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		log:    log,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Warn("meilisearch unavailable", logger.String("url", url), logger.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		primaryKey string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxServices,
			primaryKey: "id",
			filterable: []string{"state"},
			searchable: []string{"title", "description", "url"},
		},
		{
			uid:        idxGroups,
			primaryKey: "id",
			searchable: []string{"name", "description"},
		},
		{
			uid:        idxBookmarks,
			primaryKey: "id",
			filterable: []string{"ownerId", "tag"},
			searchable: []string{"name", "url", "tag"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: idx.primaryKey,
		}); err != nil {
			m.log.Debug("create index (may already exist)", logger.String("index", idx.uid), logger.Error(err))
		}

		index := m.client.Index(idx.uid)
		if len(idx.filterable) > 0 {
			filterableInterface := make([]interface{}, len(idx.filterable))
			for i, v := range idx.filterable {
				filterableInterface[i] = v
			}
			if _, err := index.UpdateFilterableAttributes(&filterableInterface); err != nil {
				m.log.Warn("update filterable attrs", logger.String("index", idx.uid), logger.Error(err))
			}
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			m.log.Warn("update searchable attrs", logger.String("index", idx.uid), logger.Error(err))
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info("meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the three directory indexes (or a filtered subset) and
// merges results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	targetIndexes := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxServices, ResultService},
		{idxGroups, ResultGroup},
		{idxBookmarks, ResultBookmark},
	}

	for _, ti := range targetIndexes {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		// Bookmarks are private; without a viewer there is nothing to show.
		if ti.rtyp == ResultBookmark && q.UserID == "" {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              ti.uid,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		}
		if ti.rtyp == ResultBookmark {
			sr.Filter = []string{fmt.Sprintf("ownerId = %q", q.UserID)}
		}
		queries = append(queries, sr)
	}

	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}

	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxServices:
		return ResultService
	case idxGroups:
		return ResultGroup
	case idxBookmarks:
		return ResultBookmark
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")
	r.URL = decodeString(hit, "url")

	switch rtyp {
	case ResultService:
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
	case ResultGroup:
		r.Title = firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
	case ResultBookmark:
		r.Title = firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "url"), decodeString(hit, "url"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexService adds or updates a service in the search index.
func (m *Meili) IndexService(s ServiceRecord) error {
	_, err := m.client.Index(idxServices).AddDocuments([]ServiceRecord{s}, nil)
	return err
}

// IndexGroup adds or updates a group in the search index.
func (m *Meili) IndexGroup(g GroupRecord) error {
	_, err := m.client.Index(idxGroups).AddDocuments([]GroupRecord{g}, nil)
	return err
}

// IndexBookmark adds or updates a bookmark in the search index.
func (m *Meili) IndexBookmark(b BookmarkRecord) error {
	_, err := m.client.Index(idxBookmarks).AddDocuments([]BookmarkRecord{b}, nil)
	return err
}

// DeleteService removes a service from the search index.
func (m *Meili) DeleteService(id string) error {
	_, err := m.client.Index(idxServices).DeleteDocument(id, nil)
	return err
}

// DeleteGroup removes a group from the search index.
func (m *Meili) DeleteGroup(id string) error {
	_, err := m.client.Index(idxGroups).DeleteDocument(id, nil)
	return err
}

// DeleteBookmark removes a bookmark from the search index.
func (m *Meili) DeleteBookmark(id string) error {
	_, err := m.client.Index(idxBookmarks).DeleteDocument(id, nil)
	return err
}

// IndexServices bulk-indexes services.
func (m *Meili) IndexServices(services []ServiceRecord) error {
	if len(services) == 0 {
		return nil
	}
	_, err := m.client.Index(idxServices).AddDocuments(services, nil)
	return err
}

// IndexGroups bulk-indexes groups.
func (m *Meili) IndexGroups(groups []GroupRecord) error {
	if len(groups) == 0 {
		return nil
	}
	_, err := m.client.Index(idxGroups).AddDocuments(groups, nil)
	return err
}

// IndexBookmarks bulk-indexes bookmarks.
func (m *Meili) IndexBookmarks(bookmarks []BookmarkRecord) error {
	if len(bookmarks) == 0 {
		return nil
	}
	_, err := m.client.Index(idxBookmarks).AddDocuments(bookmarks, nil)
	return err
}
