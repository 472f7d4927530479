package search

import (
	"context"

	"atrium/api/internal/logger"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
	log   logger.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, pgfts *PgFTS, log logger.Logger) *Service {
	return &Service{meili: meili, pgfts: pgfts, log: log}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("meilisearch error, falling back to pgfts", logger.Error(err))
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		s.log.Error("pgfts search failed", logger.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexService indexes a service (fire-and-forget to Meilisearch).
func (s *Service) IndexService(record ServiceRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexService(record); err != nil {
			s.log.Warn("index service", logger.String("id", record.ID), logger.Error(err))
		}
	}()
}

// IndexGroup indexes a group (fire-and-forget to Meilisearch).
func (s *Service) IndexGroup(record GroupRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexGroup(record); err != nil {
			s.log.Warn("index group", logger.String("id", record.ID), logger.Error(err))
		}
	}()
}

// IndexBookmark indexes a bookmark (fire-and-forget to Meilisearch).
func (s *Service) IndexBookmark(record BookmarkRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexBookmark(record); err != nil {
			s.log.Warn("index bookmark", logger.String("id", record.ID), logger.Error(err))
		}
	}()
}

// DeleteService removes a service from the search index (fire-and-forget).
func (s *Service) DeleteService(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteService(id); err != nil {
			s.log.Warn("delete service from index", logger.String("id", id), logger.Error(err))
		}
	}()
}

// DeleteGroup removes a group from the search index (fire-and-forget).
func (s *Service) DeleteGroup(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteGroup(id); err != nil {
			s.log.Warn("delete group from index", logger.String("id", id), logger.Error(err))
		}
	}()
}

// DeleteBookmark removes a bookmark from the search index (fire-and-forget).
func (s *Service) DeleteBookmark(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteBookmark(id); err != nil {
			s.log.Warn("delete bookmark from index", logger.String("id", id), logger.Error(err))
		}
	}()
}

// ReindexAll reads all directory entities from PG and pushes them to
// Meilisearch. Called at boot when Meilisearch is healthy.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}

	services, groups, bookmarks, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		s.log.Error("load records for reindex", logger.Error(err))
		return
	}

	if err := s.meili.IndexServices(services); err != nil {
		s.log.Warn("reindex services", logger.Error(err))
	}
	if err := s.meili.IndexGroups(groups); err != nil {
		s.log.Warn("reindex groups", logger.Error(err))
	}
	if err := s.meili.IndexBookmarks(bookmarks); err != nil {
		s.log.Warn("reindex bookmarks", logger.Error(err))
	}
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
