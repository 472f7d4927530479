package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, deactivated_at, created_at, updated_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.DeactivatedAt, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, deactivated_at, created_at, updated_at
		FROM users
		WHERE email=$1
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.DeactivatedAt, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetFavorites(ctx context.Context, userID string) (Favorites, error) {
	var servicesRaw, groupsRaw, bookmarksRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT fav_services, fav_groups, fav_bookmarks
		FROM users
		WHERE id=$1
	`, userID).Scan(&servicesRaw, &groupsRaw, &bookmarksRaw)
	if err != nil {
		return Favorites{}, err
	}

	var favorites Favorites
	if err := json.Unmarshal(servicesRaw, &favorites.ServiceIDs); err != nil {
		return Favorites{}, fmt.Errorf("decode fav services: %w", err)
	}
	if err := json.Unmarshal(groupsRaw, &favorites.GroupIDs); err != nil {
		return Favorites{}, fmt.Errorf("decode fav groups: %w", err)
	}
	if err := json.Unmarshal(bookmarksRaw, &favorites.BookmarkIDs); err != nil {
		return Favorites{}, fmt.Errorf("decode fav bookmarks: %w", err)
	}
	return favorites, nil
}

func (s *PostgresStore) ListActiveUserIDs(ctx context.Context, since time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM users
		WHERE deactivated_at IS NULL AND updated_at >= $1
		ORDER BY updated_at DESC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user ids: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) CreateGroup(ctx context.Context, group Group) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO groups (id, name, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, group.ID, group.Name, group.Description)
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetGroup(ctx context.Context, groupID string) (Group, error) {
	var item Group
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM groups
		WHERE id=$1
	`, groupID).Scan(&item.ID, &item.Name, &item.Description, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Group{}, err
	}
	return item, nil
}

func (s *PostgresStore) GroupExists(ctx context.Context, groupID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM groups WHERE id=$1)`, groupID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check group exists: %w", err)
	}
	return exists, nil
}

// GroupsExisting returns the subset of ids that still exist, in one query.
// The reconciler uses this to batch existence checks for a whole space.
func (s *PostgresStore) GroupsExisting(ctx context.Context, ids []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM groups WHERE id IN (`+strings.Join(placeholders, ", ")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("batch check groups: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan group id: %w", err)
		}
		existing[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group ids: %w", err)
	}
	return existing, nil
}

func (s *PostgresStore) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM groups
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	items := make([]Group, 0)
	for rows.Next() {
		var item Group
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteGroup(ctx context.Context, groupID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM groups WHERE id=$1`, groupID)
	if err != nil {
		return false, fmt.Errorf("delete group: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete group rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) CreateService(ctx context.Context, service Service) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO services (id, title, url, description, logo, state)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, service.ID, service.Title, service.URL, service.Description, service.Logo, service.State)
	if err != nil {
		return fmt.Errorf("insert service: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetService(ctx context.Context, serviceID string) (Service, error) {
	var item Service
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, url, description, logo, state, created_at, updated_at
		FROM services
		WHERE id=$1
	`, serviceID).Scan(&item.ID, &item.Title, &item.URL, &item.Description, &item.Logo, &item.State, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Service{}, err
	}
	return item, nil
}

func (s *PostgresStore) ServiceExists(ctx context.Context, serviceID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM services WHERE id=$1)`, serviceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check service exists: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListServices(ctx context.Context) ([]Service, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, url, description, logo, state, created_at, updated_at
		FROM services
		ORDER BY title ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	items := make([]Service, 0)
	for rows.Next() {
		var item Service
		if err := rows.Scan(&item.ID, &item.Title, &item.URL, &item.Description, &item.Logo, &item.State, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate services: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteService(ctx context.Context, serviceID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM services WHERE id=$1`, serviceID)
	if err != nil {
		return false, fmt.Errorf("delete service: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete service rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) CreateBookmark(ctx context.Context, bookmark Bookmark) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookmarks (id, user_id, name, url, tag)
		VALUES ($1, $2, $3, $4, $5)
	`, bookmark.ID, bookmark.UserID, bookmark.Name, bookmark.URL, bookmark.Tag)
	if err != nil {
		return fmt.Errorf("insert bookmark: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBookmark(ctx context.Context, bookmarkID string) (Bookmark, error) {
	var item Bookmark
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, url, tag, created_at, updated_at
		FROM bookmarks
		WHERE id=$1
	`, bookmarkID).Scan(&item.ID, &item.UserID, &item.Name, &item.URL, &item.Tag, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Bookmark{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListBookmarks(ctx context.Context, userID string) ([]Bookmark, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, url, tag, created_at, updated_at
		FROM bookmarks
		WHERE user_id=$1
		ORDER BY name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	defer rows.Close()

	items := make([]Bookmark, 0)
	for rows.Next() {
		var item Bookmark
		if err := rows.Scan(&item.ID, &item.UserID, &item.Name, &item.URL, &item.Tag, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan bookmark: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookmarks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteBookmark(ctx context.Context, userID, bookmarkID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM bookmarks WHERE id=$1 AND user_id=$2`, bookmarkID, userID)
	if err != nil {
		return false, fmt.Errorf("delete bookmark: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete bookmark rows: %w", err)
	}
	return affected > 0, nil
}
