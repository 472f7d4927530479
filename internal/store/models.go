package store

import (
	"fmt"
	"time"
)

// ItemKind is the closed set of entity kinds a personal space can reference.
type ItemKind string

const (
	KindService ItemKind = "service"
	KindGroup   ItemKind = "group"
	KindLink    ItemKind = "link"
)

// ParseItemKind validates a wire-level kind string.
func ParseItemKind(raw string) (ItemKind, error) {
	switch ItemKind(raw) {
	case KindService, KindGroup, KindLink:
		return ItemKind(raw), nil
	}
	return "", fmt.Errorf("unknown item kind %q", raw)
}

// ItemRef identifies one favorited entity inside a personal space. Title and
// URL are a display cache only; identity is (Kind, ID).
type ItemRef struct {
	Kind  ItemKind `json:"type"`
	ID    string   `json:"elementId"`
	Title string   `json:"title,omitempty"`
	URL   string   `json:"url,omitempty"`
}

// SameIdentity reports whether two references point at the same entity.
func (r ItemRef) SameIdentity(other ItemRef) bool {
	return r.Kind == other.Kind && r.ID == other.ID
}

// Zone is a user-named ordered grouping of references. ZoneID is assigned at
// creation and never changes; Name may be edited freely and need not be unique.
type Zone struct {
	ZoneID   string    `json:"zoneId"`
	Name     string    `json:"name"`
	Elements []ItemRef `json:"elements"`
}

// PersonalSpace is one user's dashboard layout: the default unsorted bucket
// plus the user's named zones. At most one exists per user.
type PersonalSpace struct {
	UserID   string    `json:"userId"`
	Unsorted []ItemRef `json:"unsorted"`
	Sorted   []Zone    `json:"sorted"`
}

// Contains reports whether any reference in the space shares ref's identity,
// counting unsorted and every zone.
func (p PersonalSpace) Contains(ref ItemRef) bool {
	for _, existing := range p.Unsorted {
		if existing.SameIdentity(ref) {
			return true
		}
	}
	for _, zone := range p.Sorted {
		for _, existing := range zone.Elements {
			if existing.SameIdentity(ref) {
				return true
			}
		}
	}
	return false
}

type User struct {
	ID            string
	DisplayName   string
	Email         string
	PasswordHash  string
	DeactivatedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Active reports whether the account may call the mutation API.
func (u User) Active() bool {
	return u.DeactivatedAt == nil
}

// Favorites is the legacy pre-personal-space favorites snapshot kept on the
// user record. Only the reconciler's seeding path reads it.
type Favorites struct {
	ServiceIDs  []string
	GroupIDs    []string
	BookmarkIDs []string
}

type Group struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Service struct {
	ID          string
	Title       string
	URL         string
	Description string
	Logo        string
	State       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Bookmark struct {
	ID        string
	UserID    string
	Name      string
	URL       string
	Tag       string
	CreatedAt time.Time
	UpdatedAt time.Time
}
