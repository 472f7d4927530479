package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"atrium/api/internal/authn"
	"atrium/api/internal/config"
	"atrium/api/internal/logger"
	"atrium/api/internal/search"
	"atrium/api/internal/store"
)

type fakeStore struct {
	users     map[string]store.User
	favorites map[string]store.Favorites
	groups    map[string]store.Group
	services  map[string]store.Service
	bookmarks map[string]store.Bookmark
	spaces    map[string]store.PersonalSpace

	replaceCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     make(map[string]store.User),
		favorites: make(map[string]store.Favorites),
		groups:    make(map[string]store.Group),
		services:  make(map[string]store.Service),
		bookmarks: make(map[string]store.Bookmark),
		spaces:    make(map[string]store.PersonalSpace),
	}
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	user, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) GetFavorites(_ context.Context, userID string) (store.Favorites, error) {
	if _, ok := f.users[userID]; !ok {
		return store.Favorites{}, sql.ErrNoRows
	}
	return f.favorites[userID], nil
}

func (f *fakeStore) ListActiveUserIDs(context.Context, time.Time, int) ([]string, error) {
	var ids []string
	for id, user := range f.users {
		if user.Active() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeStore) CreateGroup(_ context.Context, group store.Group) error {
	f.groups[group.ID] = group
	return nil
}

func (f *fakeStore) GetGroup(_ context.Context, id string) (store.Group, error) {
	group, ok := f.groups[id]
	if !ok {
		return store.Group{}, sql.ErrNoRows
	}
	return group, nil
}

func (f *fakeStore) GroupExists(_ context.Context, id string) (bool, error) {
	_, ok := f.groups[id]
	return ok, nil
}

func (f *fakeStore) GroupsExisting(_ context.Context, ids []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	for _, id := range ids {
		if _, ok := f.groups[id]; ok {
			existing[id] = struct{}{}
		}
	}
	return existing, nil
}

func (f *fakeStore) ListGroups(context.Context) ([]store.Group, error) {
	var groups []store.Group
	for _, group := range f.groups {
		groups = append(groups, group)
	}
	return groups, nil
}

func (f *fakeStore) DeleteGroup(_ context.Context, id string) (bool, error) {
	if _, ok := f.groups[id]; !ok {
		return false, nil
	}
	delete(f.groups, id)
	return true, nil
}

func (f *fakeStore) CreateService(_ context.Context, service store.Service) error {
	f.services[service.ID] = service
	return nil
}

func (f *fakeStore) GetService(_ context.Context, id string) (store.Service, error) {
	service, ok := f.services[id]
	if !ok {
		return store.Service{}, sql.ErrNoRows
	}
	return service, nil
}

func (f *fakeStore) ServiceExists(_ context.Context, id string) (bool, error) {
	_, ok := f.services[id]
	return ok, nil
}

func (f *fakeStore) ListServices(context.Context) ([]store.Service, error) {
	var services []store.Service
	for _, service := range f.services {
		services = append(services, service)
	}
	return services, nil
}

func (f *fakeStore) DeleteService(_ context.Context, id string) (bool, error) {
	if _, ok := f.services[id]; !ok {
		return false, nil
	}
	delete(f.services, id)
	return true, nil
}

func (f *fakeStore) CreateBookmark(_ context.Context, bookmark store.Bookmark) error {
	f.bookmarks[bookmark.ID] = bookmark
	return nil
}

func (f *fakeStore) GetBookmark(_ context.Context, id string) (store.Bookmark, error) {
	bookmark, ok := f.bookmarks[id]
	if !ok {
		return store.Bookmark{}, sql.ErrNoRows
	}
	return bookmark, nil
}

func (f *fakeStore) ListBookmarks(_ context.Context, userID string) ([]store.Bookmark, error) {
	var bookmarks []store.Bookmark
	for _, bookmark := range f.bookmarks {
		if bookmark.UserID == userID {
			bookmarks = append(bookmarks, bookmark)
		}
	}
	return bookmarks, nil
}

func (f *fakeStore) DeleteBookmark(_ context.Context, userID, id string) (bool, error) {
	bookmark, ok := f.bookmarks[id]
	if !ok || bookmark.UserID != userID {
		return false, nil
	}
	delete(f.bookmarks, id)
	return true, nil
}

func (f *fakeStore) GetPersonalSpace(_ context.Context, userID string) (store.PersonalSpace, error) {
	space, ok := f.spaces[userID]
	if !ok {
		return store.PersonalSpace{}, sql.ErrNoRows
	}
	return space, nil
}

func (f *fakeStore) CreatePersonalSpace(_ context.Context, space store.PersonalSpace) error {
	if _, ok := f.spaces[space.UserID]; ok {
		return nil
	}
	if space.Unsorted == nil {
		space.Unsorted = []store.ItemRef{}
	}
	if space.Sorted == nil {
		space.Sorted = []store.Zone{}
	}
	f.spaces[space.UserID] = space
	return nil
}

func (f *fakeStore) ReplacePersonalSpace(_ context.Context, space store.PersonalSpace) error {
	f.replaceCalls++
	if space.Unsorted == nil {
		space.Unsorted = []store.ItemRef{}
	}
	if space.Sorted == nil {
		space.Sorted = []store.Zone{}
	}
	f.spaces[space.UserID] = space
	return nil
}

func (f *fakeStore) AppendToUnsorted(_ context.Context, userID string, item store.ItemRef) (bool, error) {
	space, ok := f.spaces[userID]
	if !ok {
		return false, sql.ErrNoRows
	}
	if space.Contains(item) {
		return false, nil
	}
	space.Unsorted = append(space.Unsorted, item)
	f.spaces[userID] = space
	return true, nil
}

func (f *fakeStore) PullMatching(_ context.Context, userID string, kind store.ItemKind, refID string) (bool, error) {
	space, ok := f.spaces[userID]
	if !ok {
		return false, sql.ErrNoRows
	}
	target := store.ItemRef{Kind: kind, ID: refID}
	removed := false
	keep := space.Unsorted[:0]
	for _, ref := range space.Unsorted {
		if ref.SameIdentity(target) {
			removed = true
			continue
		}
		keep = append(keep, ref)
	}
	space.Unsorted = keep
	for i := range space.Sorted {
		kept := space.Sorted[i].Elements[:0]
		for _, ref := range space.Sorted[i].Elements {
			if ref.SameIdentity(target) {
				removed = true
				continue
			}
			kept = append(kept, ref)
		}
		space.Sorted[i].Elements = kept
	}
	f.spaces[userID] = space
	return removed, nil
}

type fakeSessions struct {
	tokens map[string]string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{tokens: make(map[string]string)}
}

func (f *fakeSessions) SaveSession(_ context.Context, token, userID string) error {
	f.tokens[token] = userID
	return nil
}

func (f *fakeSessions) LookupSession(_ context.Context, token string) (string, error) {
	userID, ok := f.tokens[token]
	if !ok {
		return "", errors.New("session not found")
	}
	return userID, nil
}

func (f *fakeSessions) RevokeSession(_ context.Context, token string) error {
	delete(f.tokens, token)
	return nil
}

func newTestService(fake *fakeStore) *Service {
	return &Service{
		cfg:      config.Config{},
		store:    fake,
		sessions: newFakeSessions(),
		authn:    authn.NewService(fake),
		search:   search.NewService(nil, nil, logger.NewNop()),
		log:      logger.NewNop(),
	}
}

func seedUser(fake *fakeStore, id string) {
	fake.users[id] = store.User{ID: id, DisplayName: "User " + id, Email: id + "@example.com"}
}

func domainCode(t *testing.T, err error) string {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	return domainErr.Code
}

func TestAddServicePutsRefInUnsorted(t *testing.T) {
	fake := newFakeStore()
	seedUser(fake, "u1")
	fake.services["svc_1"] = store.Service{ID: "svc_1", Title: "Wiki", URL: "https://wiki.local"}
	svc := newTestService(fake)

	if err := svc.AddService(context.Background(), "u1", "svc_1"); err != nil {
		t.Fatalf("AddService: %v", err)
	}

	space := fake.spaces["u1"]
	if len(space.Unsorted) != 1 {
		t.Fatalf("unsorted has %d refs, want 1", len(space.Unsorted))
	}
	ref := space.Unsorted[0]
	if ref.Kind != store.KindService || ref.ID != "svc_1" {
		t.Fatalf("unexpected ref %+v", ref)
	}
	if ref.Title != "Wiki" || ref.URL != "https://wiki.local" {
		t.Fatalf("display cache not filled: %+v", ref)
	}
}

func TestAddServiceUnknown(t *testing.T) {
	fake := newFakeStore()
	seedUser(fake, "u1")
	svc := newTestService(fake)

	err := svc.AddService(context.Background(), "u1", "svc_missing")
	if code := domainCode(t, err); code != "unknownService" {
		t.Fatalf("code = %q, want unknownService", code)
	}
}

func TestAddGroupUnknown(t *testing.T) {
	fake := newFakeStore()
	seedUser(fake, "u1")
	svc := newTestService(fake)

	err := svc.AddGroup(context.Background(), "u1", "grp_missing")
	if code := domainCode(t, err); code != "unknownGroup" {
		t.Fatalf("code = %q, want unknownGroup", code)
	}
}

func TestAddBookmarkOwnedByAnotherUser(t *testing.T) {
	fake := newFakeStore()
	seedUser(fake, "u1")
	seedUser(fake, "u2")
	fake.bookmarks["bmk_1"] = store.Bookmark{ID: "bmk_1", UserID: "u2", Name: "theirs"}
	svc := newTestService(fake)

	err := svc.AddBookmark(context.Background(), "u1", "bmk_1")
	if code := domainCode(t, err); code != "unknownBookmark" {
		t.Fatalf("code = %q, want unknownBookmark", code)
	}
}

func TestAddDuplicateIsNoOp(t *testing.T) {
	fake := newFakeStore()
	seedUser(fake, "u1")
	fake.services["svc_1"] = store.Service{ID: "svc_1", Title: "Wiki"}
	svc := newTestService(fake)

	for i := 0; i < 3; i++ {
		if err := svc.AddService(context.Background(), "u1", "svc_1"); err != nil {
			t.Fatalf("AddService call %d: %v", i, err)
		}
	}

	if got := len(fake.spaces["u1"].Unsorted); got != 1 {
		t.Fatalf("unsorted has %d refs, want 1", got)
	}
}

func TestAddRespectsRefAlreadyInZone(t *testing.T) {
	fake := newFakeStore()
	seedUser(fake, "u1")
	fake.services["svc_1"] = store.Service{ID: "svc_1", Title: "Wiki"}
	fake.spaces["u1"] = store.PersonalSpace{
		UserID:   "u1",
		Unsorted: []store.ItemRef{},
		Sorted: []store.Zone{
			{ZoneID: "z1", Name: "Work", Elements: []store.ItemRef{{Kind: store.KindService, ID: "svc_1"}}},
		},
	}
	svc := newTestService(fake)

	if err := svc.AddService(context.Background(), "u1", "svc_1"); err != nil {
		t.Fatalf("AddService: %v", err)
	}

	space := fake.spaces["u1"]
	if len(space.Unsorted) != 0 {
		t.Fatalf("ref duplicated into unsorted: %+v", space.Unsorted)
	}
	if len(space.Sorted[0].Elements) != 1 {
		t.Fatalf("zone changed: %+v", space.Sorted[0].Elements)
	}
}

func TestAddItemRejectsUnknownType(t *testing.T) {
	fake := newFakeStore()
	seedUser(fake, "u1")
	svc := newTestService(fake)

	err := svc.AddItem(context.Background(), "u1", store.ItemRef{Kind: "widget", ID: "x"})
	if code := domainCode(t, err); code != "unknownType" {
		t.Fatalf("code = %q, want unknownType", code)
	}

	err = svc.AddItem(context.Background(), "u1", store.ItemRef{Kind: store.KindService, ID: " "})
	if code := domainCode(t, err); code != "validationError" {
		t.Fatalf("code = %q, want validationError", code)
	}
}

func TestRemoveElementStripsAllPlacements(t *testing.T) {
	fake := newFakeStore()
	seedUser(fake, "u1")
	fake.spaces["u1"] = store.PersonalSpace{
		UserID:   "u1",
		Unsorted: []store.ItemRef{{Kind: store.KindService, ID: "svc_1"}},
		Sorted: []store.Zone{
			{ZoneID: "z1", Name: "Work", Elements: []store.ItemRef{
				{Kind: store.KindService, ID: "svc_1"},
				{Kind: store.KindGroup, ID: "grp_1"},
			}},
		},
	}
	svc := newTestService(fake)

	if err := svc.RemoveElement(context.Background(), "u1", "service", "svc_1"); err != nil {
		t.Fatalf("RemoveElement: %v", err)
	}

	space := fake.spaces["u1"]
	if len(space.Unsorted) != 0 {
		t.Fatalf("unsorted still has %+v", space.Unsorted)
	}
	if len(space.Sorted[0].Elements) != 1 || space.Sorted[0].Elements[0].ID != "grp_1" {
		t.Fatalf("zone elements = %+v", space.Sorted[0].Elements)
	}
}

func TestRemoveElementIdempotent(t *testing.T) {
	fake := newFakeStore()
	seedUser(fake, "u1")
	fake.spaces["u1"] = store.PersonalSpace{UserID: "u1"}
	svc := newTestService(fake)

	if err := svc.RemoveElement(context.Background(), "u1", "link", "bmk_gone"); err != nil {
		t.Fatalf("removing absent ref: %v", err)
	}
}

func TestRemoveElementWithoutSpace(t *testing.T) {
	fake := newFakeStore()
	seedUser(fake, "u1")
	svc := newTestService(fake)

	if err := svc.RemoveElement(context.Background(), "u1", "service", "svc_1"); err != nil {
		t.Fatalf("removing with no space: %v", err)
	}
}

func TestRemoveElementUnknownType(t *testing.T) {
	fake := newFakeStore()
	seedUser(fake, "u1")
	svc := newTestService(fake)

	err := svc.RemoveElement(context.Background(), "u1", "widget", "x")
	if code := domainCode(t, err); code != "unknownType" {
		t.Fatalf("code = %q, want unknownType", code)
	}
}

func TestUpdatePersonalSpaceReplacesLayout(t *testing.T) {
	fake := newFakeStore()
	seedUser(fake, "u1")
	fake.spaces["u1"] = store.PersonalSpace{
		UserID:   "u1",
		Unsorted: []store.ItemRef{{Kind: store.KindService, ID: "svc_old"}},
	}
	svc := newTestService(fake)

	layout := store.PersonalSpace{
		Unsorted: []store.ItemRef{},
		Sorted: []store.Zone{
			{ZoneID: "z1", Name: "Work", Elements: []store.ItemRef{{Kind: store.KindService, ID: "svc_old"}}},
		},
	}
	if err := svc.UpdatePersonalSpace(context.Background(), "u1", layout); err != nil {
		t.Fatalf("UpdatePersonalSpace: %v", err)
	}

	space := fake.spaces["u1"]
	if space.UserID != "u1" {
		t.Fatalf("userId = %q", space.UserID)
	}
	if len(space.Unsorted) != 0 || len(space.Sorted) != 1 {
		t.Fatalf("layout not replaced: %+v", space)
	}
}

func TestUpdatePersonalSpaceValidatesShape(t *testing.T) {
	fake := newFakeStore()
	seedUser(fake, "u1")
	svc := newTestService(fake)

	err := svc.UpdatePersonalSpace(context.Background(), "u1", store.PersonalSpace{
		Sorted: []store.Zone{{ZoneID: "", Name: "Work"}},
	})
	if code := domainCode(t, err); code != "validationError" {
		t.Fatalf("code = %q, want validationError", code)
	}

	err = svc.UpdatePersonalSpace(context.Background(), "u1", store.PersonalSpace{
		Unsorted: []store.ItemRef{{Kind: "widget", ID: "x"}},
	})
	if code := domainCode(t, err); code != "unknownType" {
		t.Fatalf("code = %q, want unknownType", code)
	}
}

func TestBackToDefaultMovesRefToEndOfUnsorted(t *testing.T) {
	fake := newFakeStore()
	seedUser(fake, "u1")
	fake.services["svc_1"] = store.Service{ID: "svc_1", Title: "Wiki"}
	fake.spaces["u1"] = store.PersonalSpace{
		UserID:   "u1",
		Unsorted: []store.ItemRef{{Kind: store.KindGroup, ID: "grp_1"}},
		Sorted: []store.Zone{
			{ZoneID: "z1", Name: "Work", Elements: []store.ItemRef{{Kind: store.KindService, ID: "svc_1"}}},
		},
	}
	svc := newTestService(fake)

	if err := svc.BackToDefaultElement(context.Background(), "u1", "service", "svc_1"); err != nil {
		t.Fatalf("BackToDefaultElement: %v", err)
	}

	space := fake.spaces["u1"]
	if len(space.Sorted[0].Elements) != 0 {
		t.Fatalf("zone still has %+v", space.Sorted[0].Elements)
	}
	if len(space.Unsorted) != 2 {
		t.Fatalf("unsorted = %+v", space.Unsorted)
	}
	last := space.Unsorted[len(space.Unsorted)-1]
	if last.Kind != store.KindService || last.ID != "svc_1" {
		t.Fatalf("moved ref not at end: %+v", space.Unsorted)
	}
}

func TestBackToDefaultUnknownType(t *testing.T) {
	fake := newFakeStore()
	seedUser(fake, "u1")
	svc := newTestService(fake)

	err := svc.BackToDefaultElement(context.Background(), "u1", "widget", "x")
	if code := domainCode(t, err); code != "unknownType" {
		t.Fatalf("code = %q, want unknownType", code)
	}
}

func TestMutationsRequireLogin(t *testing.T) {
	fake := newFakeStore()
	svc := newTestService(fake)

	err := svc.AddService(context.Background(), "", "svc_1")
	if code := domainCode(t, err); code != "notPermitted" {
		t.Fatalf("code = %q, want notPermitted", code)
	}

	err = svc.AddService(context.Background(), "u_ghost", "svc_1")
	if code := domainCode(t, err); code != "notPermitted" {
		t.Fatalf("code = %q, want notPermitted", code)
	}
}

func TestMutationsRejectDeactivatedAccount(t *testing.T) {
	fake := newFakeStore()
	deactivated := time.Now()
	fake.users["u1"] = store.User{ID: "u1", DeactivatedAt: &deactivated}
	svc := newTestService(fake)

	err := svc.RemoveElement(context.Background(), "u1", "service", "svc_1")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "notPermitted" || domainErr.Status != 403 {
		t.Fatalf("got %d/%s, want 403/notPermitted", domainErr.Status, domainErr.Code)
	}
}

func TestGetPersonalSpaceResolvesEntities(t *testing.T) {
	fake := newFakeStore()
	seedUser(fake, "u1")
	fake.services["svc_1"] = store.Service{ID: "svc_1", Title: "Wiki", URL: "https://wiki.local"}
	fake.spaces["u1"] = store.PersonalSpace{
		UserID: "u1",
		Unsorted: []store.ItemRef{
			{Kind: store.KindService, ID: "svc_1", Title: "stale name"},
			{Kind: store.KindService, ID: "svc_gone", Title: "cached name"},
		},
	}
	svc := newTestService(fake)

	body, err := svc.GetPersonalSpace(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetPersonalSpace: %v", err)
	}

	unsorted := body["unsorted"].([]map[string]any)
	if len(unsorted) != 2 {
		t.Fatalf("unsorted = %+v", unsorted)
	}
	if unsorted[0]["title"] != "Wiki" {
		t.Fatalf("resolved title = %v, want live value", unsorted[0]["title"])
	}
	if unsorted[1]["title"] != "cached name" {
		t.Fatalf("unresolvable ref lost its cache: %v", unsorted[1]["title"])
	}
}

func TestGetPersonalSpaceWithoutSpaceIsEmpty(t *testing.T) {
	fake := newFakeStore()
	seedUser(fake, "u1")
	svc := newTestService(fake)

	body, err := svc.GetPersonalSpace(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetPersonalSpace: %v", err)
	}
	if got := len(body["unsorted"].([]map[string]any)); got != 0 {
		t.Fatalf("unsorted has %d refs, want 0", got)
	}
	if got := len(body["sorted"].([]map[string]any)); got != 0 {
		t.Fatalf("sorted has %d zones, want 0", got)
	}
}

func TestDeleteBookmarkPullsRefFromSpace(t *testing.T) {
	fake := newFakeStore()
	seedUser(fake, "u1")
	fake.bookmarks["bmk_1"] = store.Bookmark{ID: "bmk_1", UserID: "u1", Name: "mine"}
	fake.spaces["u1"] = store.PersonalSpace{
		UserID:   "u1",
		Unsorted: []store.ItemRef{{Kind: store.KindLink, ID: "bmk_1"}},
	}
	svc := newTestService(fake)

	if err := svc.DeleteBookmark(context.Background(), "u1", "bmk_1"); err != nil {
		t.Fatalf("DeleteBookmark: %v", err)
	}
	if len(fake.spaces["u1"].Unsorted) != 0 {
		t.Fatalf("ref survived bookmark deletion: %+v", fake.spaces["u1"].Unsorted)
	}
}

func TestSignInIssuesSessionAndSeedsSpace(t *testing.T) {
	fake := newFakeStore()
	svc := newTestService(fake)

	created, err := svc.SignUp(context.Background(), authn.SignUpRequest{
		Email:       "ada@example.com",
		Password:    "correct horse",
		DisplayName: "Ada",
	})
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	fake.favorites[created.UserID] = store.Favorites{ServiceIDs: []string{"svc_1"}}

	session, err := svc.SignIn(context.Background(), "ada@example.com", "correct horse")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if session.Token == "" || session.UserID != created.UserID {
		t.Fatalf("session = %+v", session)
	}

	user, err := svc.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	if user.ID != created.UserID {
		t.Fatalf("resolved user %q, want %q", user.ID, created.UserID)
	}

	space, ok := fake.spaces[created.UserID]
	if !ok {
		t.Fatal("signin did not seed the personal space")
	}
	if len(space.Unsorted) != 1 || space.Unsorted[0].ID != "svc_1" {
		t.Fatalf("seeded layout = %+v", space)
	}

	if err := svc.Logout(context.Background(), session.Token); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := svc.SessionFromToken(context.Background(), session.Token); err == nil {
		t.Fatal("token still valid after logout")
	}
}
