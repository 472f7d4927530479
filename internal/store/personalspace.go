package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// The personal space layout lives in two jsonb columns keyed by user id.
// Operations that need check-then-write semantics (AppendToUnsorted,
// PullMatching) take a row lock inside a transaction so concurrent writers
// for the same user serialize; different users never contend.

func encodeLayout(space PersonalSpace) (unsorted, sorted []byte, err error) {
	if space.Unsorted == nil {
		space.Unsorted = []ItemRef{}
	}
	if space.Sorted == nil {
		space.Sorted = []Zone{}
	}
	for i := range space.Sorted {
		if space.Sorted[i].Elements == nil {
			space.Sorted[i].Elements = []ItemRef{}
		}
	}
	unsorted, err = json.Marshal(space.Unsorted)
	if err != nil {
		return nil, nil, fmt.Errorf("encode unsorted: %w", err)
	}
	sorted, err = json.Marshal(space.Sorted)
	if err != nil {
		return nil, nil, fmt.Errorf("encode sorted: %w", err)
	}
	return unsorted, sorted, nil
}

func decodeLayout(userID string, unsortedRaw, sortedRaw []byte) (PersonalSpace, error) {
	space := PersonalSpace{UserID: userID, Unsorted: []ItemRef{}, Sorted: []Zone{}}
	if err := json.Unmarshal(unsortedRaw, &space.Unsorted); err != nil {
		return PersonalSpace{}, fmt.Errorf("decode unsorted: %w", err)
	}
	if err := json.Unmarshal(sortedRaw, &space.Sorted); err != nil {
		return PersonalSpace{}, fmt.Errorf("decode sorted: %w", err)
	}
	if space.Unsorted == nil {
		space.Unsorted = []ItemRef{}
	}
	if space.Sorted == nil {
		space.Sorted = []Zone{}
	}
	return space, nil
}

func (s *PostgresStore) GetPersonalSpace(ctx context.Context, userID string) (PersonalSpace, error) {
	var unsortedRaw, sortedRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT unsorted, sorted FROM personal_spaces WHERE user_id=$1
	`, userID).Scan(&unsortedRaw, &sortedRaw)
	if err != nil {
		return PersonalSpace{}, err
	}
	return decodeLayout(userID, unsortedRaw, sortedRaw)
}

// CreatePersonalSpace inserts a space if none exists yet. The upsert makes
// concurrent first-mutations for the same user converge on one row.
func (s *PostgresStore) CreatePersonalSpace(ctx context.Context, space PersonalSpace) error {
	unsortedRaw, sortedRaw, err := encodeLayout(space)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO personal_spaces (user_id, unsorted, sorted)
		VALUES ($1, $2::jsonb, $3::jsonb)
		ON CONFLICT (user_id) DO NOTHING
	`, space.UserID, unsortedRaw, sortedRaw)
	if err != nil {
		return fmt.Errorf("create personal space: %w", err)
	}
	return nil
}

// ReplacePersonalSpace overwrites the whole layout, creating the space when
// absent. This is the bulk-update path behind drag-and-drop saves.
func (s *PostgresStore) ReplacePersonalSpace(ctx context.Context, space PersonalSpace) error {
	unsortedRaw, sortedRaw, err := encodeLayout(space)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO personal_spaces (user_id, unsorted, sorted)
		VALUES ($1, $2::jsonb, $3::jsonb)
		ON CONFLICT (user_id) DO UPDATE SET unsorted=EXCLUDED.unsorted, sorted=EXCLUDED.sorted, updated_at=NOW()
	`, space.UserID, unsortedRaw, sortedRaw)
	if err != nil {
		return fmt.Errorf("replace personal space: %w", err)
	}
	return nil
}

// AppendToUnsorted appends item to the user's unsorted bucket iff no
// reference with the same identity exists anywhere in the space. Returns
// whether the item was appended. The check and the append run under a row
// lock, so two concurrent adds of the same item never both insert.
func (s *PostgresStore) AppendToUnsorted(ctx context.Context, userID string, item ItemRef) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	space, err := lockPersonalSpace(ctx, tx, userID)
	if err != nil {
		return false, err
	}
	if space.Contains(item) {
		return false, nil
	}

	space.Unsorted = append(space.Unsorted, item)
	if err := updateLockedLayout(ctx, tx, space); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit append: %w", err)
	}
	return true, nil
}

// PullMatching removes every reference with the given identity from unsorted
// and from every zone, in one atomic update. Removing an absent reference is
// a no-op, not an error. Returns whether anything was removed.
func (s *PostgresStore) PullMatching(ctx context.Context, userID string, kind ItemKind, referenceID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin pull tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	space, err := lockPersonalSpace(ctx, tx, userID)
	if err != nil {
		return false, err
	}

	target := ItemRef{Kind: kind, ID: referenceID}
	removed := false

	kept := space.Unsorted[:0]
	for _, ref := range space.Unsorted {
		if ref.SameIdentity(target) {
			removed = true
			continue
		}
		kept = append(kept, ref)
	}
	space.Unsorted = kept

	for i := range space.Sorted {
		keptElems := space.Sorted[i].Elements[:0]
		for _, ref := range space.Sorted[i].Elements {
			if ref.SameIdentity(target) {
				removed = true
				continue
			}
			keptElems = append(keptElems, ref)
		}
		space.Sorted[i].Elements = keptElems
	}

	if !removed {
		return false, nil
	}
	if err := updateLockedLayout(ctx, tx, space); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit pull: %w", err)
	}
	return true, nil
}

func lockPersonalSpace(ctx context.Context, tx *sql.Tx, userID string) (PersonalSpace, error) {
	var unsortedRaw, sortedRaw []byte
	err := tx.QueryRowContext(ctx, `
		SELECT unsorted, sorted FROM personal_spaces WHERE user_id=$1 FOR UPDATE
	`, userID).Scan(&unsortedRaw, &sortedRaw)
	if err != nil {
		return PersonalSpace{}, err
	}
	return decodeLayout(userID, unsortedRaw, sortedRaw)
}

func updateLockedLayout(ctx context.Context, tx *sql.Tx, space PersonalSpace) error {
	unsortedRaw, sortedRaw, err := encodeLayout(space)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE personal_spaces SET unsorted=$2::jsonb, sorted=$3::jsonb, updated_at=NOW()
		WHERE user_id=$1
	`, space.UserID, unsortedRaw, sortedRaw)
	if err != nil {
		return fmt.Errorf("update personal space layout: %w", err)
	}
	return nil
}
