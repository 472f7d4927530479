package app

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"atrium/api/internal/logger"
	"atrium/api/internal/store"
)

// CheckPersonalSpace brings one user's personal space back to a consistent
// state. A user with no space yet gets one seeded from the legacy favorites
// lists on their account record; an existing space is scanned for duplicate
// references and references to groups that no longer exist, and rewritten
// only when something had to change. The pass is idempotent.
func (s *Service) CheckPersonalSpace(ctx context.Context, userID string) error {
	space, err := s.store.GetPersonalSpace(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return s.seedPersonalSpace(ctx, userID)
	}
	if err != nil {
		return err
	}
	return s.repairPersonalSpace(ctx, space)
}

// seedPersonalSpace builds a first space from the account's legacy favorites:
// services, then groups, then bookmarks, all in the unsorted bucket, with no
// zones. An unknown user is not an error; there is simply nothing to seed.
func (s *Service) seedPersonalSpace(ctx context.Context, userID string) error {
	favorites, err := s.store.GetFavorites(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	space := store.PersonalSpace{
		UserID:   userID,
		Unsorted: []store.ItemRef{},
		Sorted:   []store.Zone{},
	}
	seen := make(map[refKey]struct{})
	add := func(kind store.ItemKind, ids []string) {
		for _, id := range ids {
			key := refKey{kind: kind, id: id}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			space.Unsorted = append(space.Unsorted, store.ItemRef{Kind: kind, ID: id})
		}
	}
	add(store.KindService, favorites.ServiceIDs)
	add(store.KindGroup, favorites.GroupIDs)
	add(store.KindLink, favorites.BookmarkIDs)

	if err := s.store.CreatePersonalSpace(ctx, space); err != nil {
		return err
	}
	s.log.Info("seeded personal space from favorites",
		logger.String("user_id", userID), logger.Int("items", len(space.Unsorted)))
	return nil
}

type refKey struct {
	kind store.ItemKind
	id   string
}

// repairPersonalSpace enforces identity uniqueness and group validity on an
// existing space. Zones are scanned in array order, then the unsorted bucket;
// the first occurrence of an identity is the one that survives. Group
// existence is checked in one batched query; a missing group loses every
// occurrence. Emptied zones are kept, their contents are the user's to manage.
func (s *Service) repairPersonalSpace(ctx context.Context, space store.PersonalSpace) error {
	seen := make(map[refKey]struct{})
	var groupIDs []string

	zoneDrops := make([]map[int]struct{}, len(space.Sorted))
	for i := range zoneDrops {
		zoneDrops[i] = make(map[int]struct{})
	}
	unsortedDrops := make(map[int]struct{})

	duplicates := 0
	scan := func(refs []store.ItemRef, drops map[int]struct{}) {
		for i, ref := range refs {
			key := refKey{kind: ref.Kind, id: ref.ID}
			if _, ok := seen[key]; ok {
				drops[i] = struct{}{}
				duplicates++
				continue
			}
			seen[key] = struct{}{}
			if ref.Kind == store.KindGroup {
				groupIDs = append(groupIDs, ref.ID)
			}
		}
	}
	for i := range space.Sorted {
		scan(space.Sorted[i].Elements, zoneDrops[i])
	}
	scan(space.Unsorted, unsortedDrops)

	dangling := 0
	if len(groupIDs) > 0 {
		existing, err := s.store.GroupsExisting(ctx, groupIDs)
		if err != nil {
			return err
		}
		mark := func(refs []store.ItemRef, drops map[int]struct{}) {
			for i, ref := range refs {
				if ref.Kind != store.KindGroup {
					continue
				}
				if _, ok := existing[ref.ID]; ok {
					continue
				}
				if _, dropped := drops[i]; !dropped {
					dangling++
				}
				drops[i] = struct{}{}
			}
		}
		for i := range space.Sorted {
			mark(space.Sorted[i].Elements, zoneDrops[i])
		}
		mark(space.Unsorted, unsortedDrops)
	}

	if duplicates == 0 && dangling == 0 {
		return nil
	}

	for i := range space.Sorted {
		space.Sorted[i].Elements = dropIndices(space.Sorted[i].Elements, zoneDrops[i])
	}
	space.Unsorted = dropIndices(space.Unsorted, unsortedDrops)

	if err := s.store.ReplacePersonalSpace(ctx, space); err != nil {
		return err
	}
	s.log.Info("repaired personal space",
		logger.String("user_id", space.UserID),
		logger.Int("duplicates_removed", duplicates),
		logger.Int("dangling_groups_removed", dangling))
	return nil
}

func dropIndices(refs []store.ItemRef, drops map[int]struct{}) []store.ItemRef {
	if len(drops) == 0 {
		return refs
	}
	indices := make([]int, 0, len(drops))
	for i := range drops {
		indices = append(indices, i)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(indices)))
	for _, i := range indices {
		refs = append(refs[:i], refs[i+1:]...)
	}
	return refs
}
