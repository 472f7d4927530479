package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"atrium/api/internal/authn"
	"atrium/api/internal/config"
	"atrium/api/internal/logger"
	"atrium/api/internal/search"
	"atrium/api/internal/store"
	"atrium/api/internal/util"
)

// Session is what a successful signup/signin hands back to the client.
type Session struct {
	Token       string
	UserID      string
	DisplayName string
}

type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByID(context.Context, string) (store.User, error)
	GetFavorites(context.Context, string) (store.Favorites, error)
	ListActiveUserIDs(context.Context, time.Time, int) ([]string, error)

	CreateGroup(context.Context, store.Group) error
	GetGroup(context.Context, string) (store.Group, error)
	GroupExists(context.Context, string) (bool, error)
	GroupsExisting(context.Context, []string) (map[string]struct{}, error)
	ListGroups(context.Context) ([]store.Group, error)
	DeleteGroup(context.Context, string) (bool, error)

	CreateService(context.Context, store.Service) error
	GetService(context.Context, string) (store.Service, error)
	ServiceExists(context.Context, string) (bool, error)
	ListServices(context.Context) ([]store.Service, error)
	DeleteService(context.Context, string) (bool, error)

	CreateBookmark(context.Context, store.Bookmark) error
	GetBookmark(context.Context, string) (store.Bookmark, error)
	ListBookmarks(context.Context, string) ([]store.Bookmark, error)
	DeleteBookmark(context.Context, string, string) (bool, error)

	GetPersonalSpace(context.Context, string) (store.PersonalSpace, error)
	CreatePersonalSpace(context.Context, store.PersonalSpace) error
	ReplacePersonalSpace(context.Context, store.PersonalSpace) error
	AppendToUnsorted(context.Context, string, store.ItemRef) (bool, error)
	PullMatching(context.Context, string, store.ItemKind, string) (bool, error)
}

type sessionStore interface {
	SaveSession(ctx context.Context, token, userID string) error
	LookupSession(ctx context.Context, token string) (string, error)
	RevokeSession(ctx context.Context, token string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	authn    *authn.Service
	search   *search.Service
	log      logger.Logger
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, authnService *authn.Service, searchService *search.Service, log logger.Logger) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		authn:    authnService,
		search:   searchService,
		log:      log,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// requireActiveUser is the gate in front of every mutation: the caller must
// be a known, non-deactivated account.
func (s *Service) requireActiveUser(ctx context.Context, userID string) (store.User, error) {
	if strings.TrimSpace(userID) == "" {
		return store.User{}, errNotLoggedIn()
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, errNotLoggedIn()
	}
	if err != nil {
		return store.User{}, err
	}
	if !user.Active() {
		return store.User{}, errNotActive()
	}
	return user, nil
}

func (s *Service) SignUp(ctx context.Context, req authn.SignUpRequest) (Session, error) {
	user, err := s.authn.SignUp(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.authn.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}

	// Repair the user's personal space on the way in; a failed pass only
	// costs this login its repairs, the next pass is equivalent.
	if err := s.CheckPersonalSpace(ctx, user.ID); err != nil {
		s.log.Warn("personal space check at signin failed",
			logger.String("user_id", user.ID), logger.Error(err))
	}

	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	token := util.NewToken()
	if err := s.sessions.SaveSession(ctx, token, user.ID); err != nil {
		return Session{}, err
	}
	return Session{Token: token, UserID: user.ID, DisplayName: user.DisplayName}, nil
}

// SessionFromToken resolves a bearer token to its account.
func (s *Service) SessionFromToken(ctx context.Context, token string) (store.User, error) {
	if token == "" {
		return store.User{}, errNotLoggedIn()
	}
	userID, err := s.sessions.LookupSession(ctx, token)
	if err != nil {
		return store.User{}, errNotLoggedIn()
	}
	return s.requireActiveUser(ctx, userID)
}

func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.sessions.RevokeSession(ctx, token)
}

// AddItem appends a reference to the caller's unsorted bucket, creating the
// space on first use. Adding a reference that is already anywhere in the
// space is a no-op.
func (s *Service) AddItem(ctx context.Context, userID string, item store.ItemRef) error {
	if _, err := s.requireActiveUser(ctx, userID); err != nil {
		return err
	}
	if _, err := store.ParseItemKind(string(item.Kind)); err != nil {
		return errUnknownType(string(item.Kind))
	}
	if strings.TrimSpace(item.ID) == "" {
		return validationError("elementId is required")
	}
	return s.addItem(ctx, userID, item)
}

func (s *Service) addItem(ctx context.Context, userID string, item store.ItemRef) error {
	if err := s.store.CreatePersonalSpace(ctx, store.PersonalSpace{UserID: userID}); err != nil {
		return err
	}
	_, err := s.store.AppendToUnsorted(ctx, userID, item)
	return err
}

// AddService favorites a service: validated against the services store, then
// placed in unsorted.
func (s *Service) AddService(ctx context.Context, userID, serviceID string) error {
	if _, err := s.requireActiveUser(ctx, userID); err != nil {
		return err
	}
	service, err := s.store.GetService(ctx, serviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return errUnknownService(serviceID)
	}
	if err != nil {
		return err
	}
	return s.addItem(ctx, userID, store.ItemRef{
		Kind:  store.KindService,
		ID:    service.ID,
		Title: service.Title,
		URL:   service.URL,
	})
}

// AddGroup favorites a group.
func (s *Service) AddGroup(ctx context.Context, userID, groupID string) error {
	if _, err := s.requireActiveUser(ctx, userID); err != nil {
		return err
	}
	group, err := s.store.GetGroup(ctx, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return errUnknownGroup(groupID)
	}
	if err != nil {
		return err
	}
	return s.addItem(ctx, userID, store.ItemRef{
		Kind:  store.KindGroup,
		ID:    group.ID,
		Title: group.Name,
	})
}

// AddBookmark favorites one of the caller's own bookmarks. A bookmark owned
// by someone else is indistinguishable from a missing one.
func (s *Service) AddBookmark(ctx context.Context, userID, bookmarkID string) error {
	if _, err := s.requireActiveUser(ctx, userID); err != nil {
		return err
	}
	bookmark, err := s.store.GetBookmark(ctx, bookmarkID)
	if errors.Is(err, sql.ErrNoRows) {
		return errUnknownBookmark(bookmarkID)
	}
	if err != nil {
		return err
	}
	if bookmark.UserID != userID {
		return errUnknownBookmark(bookmarkID)
	}
	return s.addItem(ctx, userID, store.ItemRef{
		Kind:  store.KindLink,
		ID:    bookmark.ID,
		Title: bookmark.Name,
		URL:   bookmark.URL,
	})
}

// RemoveElement removes every reference with the given identity from the
// caller's space. Removing an absent reference succeeds silently.
func (s *Service) RemoveElement(ctx context.Context, userID, kindRaw, referenceID string) error {
	if _, err := s.requireActiveUser(ctx, userID); err != nil {
		return err
	}
	kind, err := store.ParseItemKind(kindRaw)
	if err != nil {
		return errUnknownType(kindRaw)
	}
	if strings.TrimSpace(referenceID) == "" {
		return validationError("elementId is required")
	}
	_, err = s.store.PullMatching(ctx, userID, kind, referenceID)
	if errors.Is(err, sql.ErrNoRows) {
		// No space yet; nothing to remove.
		return nil
	}
	return err
}

// UpdatePersonalSpace replaces the caller's whole layout. This is the
// drag-and-drop save path and the only way zones are created, renamed,
// reordered, or deleted. The layout is shape-validated but not checked for
// duplicate identities; the reconciler is the backstop for a client that
// sends a self-duplicating layout.
func (s *Service) UpdatePersonalSpace(ctx context.Context, userID string, layout store.PersonalSpace) error {
	if _, err := s.requireActiveUser(ctx, userID); err != nil {
		return err
	}
	if err := validateLayout(layout); err != nil {
		return err
	}
	layout.UserID = userID
	return s.store.ReplacePersonalSpace(ctx, layout)
}

func validateLayout(layout store.PersonalSpace) error {
	for _, ref := range layout.Unsorted {
		if err := validateRef(ref); err != nil {
			return err
		}
	}
	for _, zone := range layout.Sorted {
		if strings.TrimSpace(zone.ZoneID) == "" {
			return validationError("zoneId is required")
		}
		for _, ref := range zone.Elements {
			if err := validateRef(ref); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateRef(ref store.ItemRef) error {
	if _, err := store.ParseItemKind(string(ref.Kind)); err != nil {
		return errUnknownType(string(ref.Kind))
	}
	if strings.TrimSpace(ref.ID) == "" {
		return validationError("elementId is required")
	}
	return nil
}

// BackToDefaultElement resets an item's placement: it is pulled from
// wherever it sits and re-added through the kind-appropriate favorite path,
// landing at the end of unsorted.
func (s *Service) BackToDefaultElement(ctx context.Context, userID, kindRaw, referenceID string) error {
	if _, err := s.requireActiveUser(ctx, userID); err != nil {
		return err
	}
	kind, err := store.ParseItemKind(kindRaw)
	if err != nil {
		return errUnknownType(kindRaw)
	}
	if strings.TrimSpace(referenceID) == "" {
		return validationError("elementId is required")
	}

	if _, err := s.store.PullMatching(ctx, userID, kind, referenceID); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	switch kind {
	case store.KindService:
		return s.AddService(ctx, userID, referenceID)
	case store.KindGroup:
		return s.AddGroup(ctx, userID, referenceID)
	case store.KindLink:
		return s.AddBookmark(ctx, userID, referenceID)
	}
	return errUnknownType(kindRaw)
}

// GetPersonalSpace returns the caller's layout with every reference resolved
// against its collaborator store for rendering. References to entities that
// no longer resolve keep their cached display fields.
func (s *Service) GetPersonalSpace(ctx context.Context, userID string) (map[string]any, error) {
	if _, err := s.requireActiveUser(ctx, userID); err != nil {
		return nil, err
	}

	space, err := s.store.GetPersonalSpace(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		space = store.PersonalSpace{UserID: userID, Unsorted: []store.ItemRef{}, Sorted: []store.Zone{}}
	} else if err != nil {
		return nil, err
	}

	unsorted := make([]map[string]any, 0, len(space.Unsorted))
	for _, ref := range space.Unsorted {
		unsorted = append(unsorted, s.resolveRef(ctx, userID, ref))
	}

	sorted := make([]map[string]any, 0, len(space.Sorted))
	for _, zone := range space.Sorted {
		elements := make([]map[string]any, 0, len(zone.Elements))
		for _, ref := range zone.Elements {
			elements = append(elements, s.resolveRef(ctx, userID, ref))
		}
		sorted = append(sorted, map[string]any{
			"zoneId":   zone.ZoneID,
			"name":     zone.Name,
			"elements": elements,
		})
	}

	return map[string]any{
		"userId":   userID,
		"unsorted": unsorted,
		"sorted":   sorted,
	}, nil
}

func (s *Service) resolveRef(ctx context.Context, userID string, ref store.ItemRef) map[string]any {
	resolved := map[string]any{
		"type":      string(ref.Kind),
		"elementId": ref.ID,
		"title":     ref.Title,
		"url":       ref.URL,
	}
	switch ref.Kind {
	case store.KindService:
		if service, err := s.store.GetService(ctx, ref.ID); err == nil {
			resolved["title"] = service.Title
			resolved["url"] = service.URL
			resolved["logo"] = service.Logo
		}
	case store.KindGroup:
		if group, err := s.store.GetGroup(ctx, ref.ID); err == nil {
			resolved["title"] = group.Name
		}
	case store.KindLink:
		if bookmark, err := s.store.GetBookmark(ctx, ref.ID); err == nil && bookmark.UserID == userID {
			resolved["title"] = bookmark.Name
			resolved["url"] = bookmark.URL
		}
	}
	return resolved
}

func (s *Service) ListServices(ctx context.Context) ([]store.Service, error) {
	return s.store.ListServices(ctx)
}

func (s *Service) CreateService(ctx context.Context, callerID, title, url, description string) (store.Service, error) {
	if _, err := s.requireActiveUser(ctx, callerID); err != nil {
		return store.Service{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Service{}, validationError("title is required")
	}
	service := store.Service{
		ID:          util.NewID("svc"),
		Title:       title,
		URL:         strings.TrimSpace(url),
		Description: strings.TrimSpace(description),
		State:       "active",
	}
	if err := s.store.CreateService(ctx, service); err != nil {
		return store.Service{}, err
	}
	s.search.IndexService(search.ServiceRecord{
		ID:          service.ID,
		Title:       service.Title,
		Description: service.Description,
		URL:         service.URL,
		State:       service.State,
	})
	return service, nil
}

func (s *Service) DeleteService(ctx context.Context, callerID, serviceID string) error {
	if _, err := s.requireActiveUser(ctx, callerID); err != nil {
		return err
	}
	deleted, err := s.store.DeleteService(ctx, serviceID)
	if err != nil {
		return err
	}
	if !deleted {
		return errUnknownService(serviceID)
	}
	s.search.DeleteService(serviceID)
	return nil
}

func (s *Service) ListGroups(ctx context.Context) ([]store.Group, error) {
	return s.store.ListGroups(ctx)
}

func (s *Service) CreateGroup(ctx context.Context, callerID, name, description string) (store.Group, error) {
	if _, err := s.requireActiveUser(ctx, callerID); err != nil {
		return store.Group{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Group{}, validationError("name is required")
	}
	group := store.Group{
		ID:          util.NewID("grp"),
		Name:        name,
		Description: strings.TrimSpace(description),
	}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		return store.Group{}, err
	}
	s.search.IndexGroup(search.GroupRecord{
		ID:          group.ID,
		Name:        group.Name,
		Description: group.Description,
	})
	return group, nil
}

func (s *Service) DeleteGroup(ctx context.Context, callerID, groupID string) error {
	if _, err := s.requireActiveUser(ctx, callerID); err != nil {
		return err
	}
	deleted, err := s.store.DeleteGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if !deleted {
		return errUnknownGroup(groupID)
	}
	s.search.DeleteGroup(groupID)
	return nil
}

func (s *Service) ListBookmarks(ctx context.Context, userID string) ([]store.Bookmark, error) {
	if _, err := s.requireActiveUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListBookmarks(ctx, userID)
}

func (s *Service) CreateBookmark(ctx context.Context, userID, name, url, tag string) (store.Bookmark, error) {
	if _, err := s.requireActiveUser(ctx, userID); err != nil {
		return store.Bookmark{}, err
	}
	name = strings.TrimSpace(name)
	url = strings.TrimSpace(url)
	if name == "" || url == "" {
		return store.Bookmark{}, validationError("name and url are required")
	}
	bookmark := store.Bookmark{
		ID:     util.NewID("bmk"),
		UserID: userID,
		Name:   name,
		URL:    url,
		Tag:    strings.TrimSpace(tag),
	}
	if err := s.store.CreateBookmark(ctx, bookmark); err != nil {
		return store.Bookmark{}, err
	}
	s.search.IndexBookmark(search.BookmarkRecord{
		ID:      bookmark.ID,
		OwnerID: bookmark.UserID,
		Name:    bookmark.Name,
		URL:     bookmark.URL,
		Tag:     bookmark.Tag,
	})
	return bookmark, nil
}

// DeleteBookmark removes one of the caller's bookmarks and pulls any
// reference to it out of the personal space in the same call.
func (s *Service) DeleteBookmark(ctx context.Context, userID, bookmarkID string) error {
	if _, err := s.requireActiveUser(ctx, userID); err != nil {
		return err
	}
	deleted, err := s.store.DeleteBookmark(ctx, userID, bookmarkID)
	if err != nil {
		return err
	}
	if !deleted {
		return errUnknownBookmark(bookmarkID)
	}
	if _, err := s.store.PullMatching(ctx, userID, store.KindLink, bookmarkID); err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.log.Warn("pull deleted bookmark from personal space",
			logger.String("user_id", userID), logger.String("bookmark_id", bookmarkID), logger.Error(err))
	}
	s.search.DeleteBookmark(bookmarkID)
	return nil
}

// SearchDirectory runs a full-text search over services, groups, and the
// caller's bookmarks.
func (s *Service) SearchDirectory(ctx context.Context, userID string, q search.Query) (search.Response, error) {
	if _, err := s.requireActiveUser(ctx, userID); err != nil {
		return search.Response{}, err
	}
	q.UserID = userID
	return s.search.Search(q), nil
}
