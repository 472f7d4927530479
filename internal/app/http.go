package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"atrium/api/internal/authn"
	"atrium/api/internal/logger"
	"atrium/api/internal/search"
	"atrium/api/internal/store"
)

type ctxKey int

const ctxKeyUser ctxKey = iota

// Router assembles the HTTP API.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/signup", s.handleSignUp)
		r.Post("/auth/signin", s.handleSignIn)

		r.Group(func(r chi.Router) {
			r.Use(s.sessionMiddleware)

			r.Post("/auth/logout", s.handleLogout)
			r.Get("/auth/session", s.handleSession)

			r.Get("/services", s.handleListServices)
			r.Post("/services", s.handleCreateService)
			r.Delete("/services/{id}", s.handleDeleteService)

			r.Get("/groups", s.handleListGroups)
			r.Post("/groups", s.handleCreateGroup)
			r.Delete("/groups/{id}", s.handleDeleteGroup)

			r.Get("/bookmarks", s.handleListBookmarks)
			r.Post("/bookmarks", s.handleCreateBookmark)
			r.Delete("/bookmarks/{id}", s.handleDeleteBookmark)

			r.Get("/personal-space", s.handleGetPersonalSpace)
			r.Put("/personal-space", s.handleUpdatePersonalSpace)
			r.Post("/personal-space/items", s.handleAddItem)
			r.Post("/personal-space/services/{id}", s.handleAddService)
			r.Post("/personal-space/groups/{id}", s.handleAddGroup)
			r.Post("/personal-space/bookmarks/{id}", s.handleAddBookmark)
			r.Delete("/personal-space/elements/{type}/{id}", s.handleRemoveElement)
			r.Post("/personal-space/elements/{type}/{id}/default", s.handleBackToDefault)
			r.Post("/personal-space/reconcile", s.handleReconcile)

			r.Get("/search", s.handleSearch)
		})
	})

	return r
}

func (s *Service) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.CORSOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.cfg.CORSOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sessionMiddleware resolves the bearer token and stashes the account on the
// request context. Requests without a valid session are rejected here so
// handlers only ever see authenticated callers.
func (s *Service) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.SessionFromToken(r.Context(), bearerToken(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUser, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

func requestUser(r *http.Request) store.User {
	user, _ := r.Context().Value(ctxKeyUser).(store.User)
	return user
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("encode response", logger.Error(err))
	}
}

func (s *Service) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var domainErr *DomainError
	switch {
	case errors.As(err, &domainErr):
	case errors.Is(err, authn.ErrInvalidCredentials):
		domainErr = domainError(http.StatusUnauthorized, "notPermitted", err.Error(), nil)
	case errors.Is(err, authn.ErrEmailTaken):
		domainErr = domainError(http.StatusConflict, "emailTaken", err.Error(), nil)
	case errors.Is(err, authn.ErrInvalidSignUp):
		domainErr = domainError(http.StatusUnprocessableEntity, "validationError", err.Error(), nil)
	default:
		s.log.Error("internal error",
			logger.String("method", r.Method), logger.String("path", r.URL.Path), logger.Error(err))
		domainErr = domainError(http.StatusInternalServerError, "internal", "internal server error", nil)
	}

	body := map[string]any{"error": domainErr.Code, "message": domainErr.Message}
	if domainErr.Details != nil {
		body["details"] = domainErr.Details
	}
	s.writeJSON(w, domainErr.Status, body)
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return validationError("invalid JSON body")
	}
	return nil
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.Ping(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Service) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err := s.SignUp(r.Context(), authn.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sessionBody(session))
}

func (s *Service) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err := s.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sessionBody(session))
}

func sessionBody(session Session) map[string]any {
	return map[string]any{
		"token":       session.Token,
		"userId":      session.UserID,
		"displayName": session.DisplayName,
	}
}

func (s *Service) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.Logout(r.Context(), bearerToken(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Service) handleSession(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"userId":      user.ID,
		"email":       user.Email,
		"displayName": user.DisplayName,
	})
}

func (s *Service) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.ListServices(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"services": serviceBodies(services)})
}

func serviceBodies(services []store.Service) []map[string]any {
	out := make([]map[string]any, 0, len(services))
	for _, service := range services {
		out = append(out, map[string]any{
			"id":          service.ID,
			"title":       service.Title,
			"url":         service.URL,
			"description": service.Description,
			"logo":        service.Logo,
			"state":       service.State,
		})
	}
	return out
}

func (s *Service) handleCreateService(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title       string `json:"title"`
		URL         string `json:"url"`
		Description string `json:"description"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	service, err := s.CreateService(r.Context(), requestUser(r).ID, body.Title, body.URL, body.Description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"id": service.ID})
}

func (s *Service) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	if err := s.DeleteService(r.Context(), requestUser(r).ID, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

func (s *Service) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.ListGroups(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(groups))
	for _, group := range groups {
		out = append(out, map[string]any{
			"id":          group.ID,
			"name":        group.Name,
			"description": group.Description,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"groups": out})
}

func (s *Service) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	group, err := s.CreateGroup(r.Context(), requestUser(r).ID, body.Name, body.Description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"id": group.ID})
}

func (s *Service) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.DeleteGroup(r.Context(), requestUser(r).ID, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

func (s *Service) handleListBookmarks(w http.ResponseWriter, r *http.Request) {
	bookmarks, err := s.ListBookmarks(r.Context(), requestUser(r).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(bookmarks))
	for _, bookmark := range bookmarks {
		out = append(out, map[string]any{
			"id":   bookmark.ID,
			"name": bookmark.Name,
			"url":  bookmark.URL,
			"tag":  bookmark.Tag,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"bookmarks": out})
}

func (s *Service) handleCreateBookmark(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
		URL  string `json:"url"`
		Tag  string `json:"tag"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	bookmark, err := s.CreateBookmark(r.Context(), requestUser(r).ID, body.Name, body.URL, body.Tag)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"id": bookmark.ID})
}

func (s *Service) handleDeleteBookmark(w http.ResponseWriter, r *http.Request) {
	if err := s.DeleteBookmark(r.Context(), requestUser(r).ID, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

func (s *Service) handleGetPersonalSpace(w http.ResponseWriter, r *http.Request) {
	space, err := s.GetPersonalSpace(r.Context(), requestUser(r).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, space)
}

func (s *Service) handleUpdatePersonalSpace(w http.ResponseWriter, r *http.Request) {
	var layout store.PersonalSpace
	if err := decodeBody(r, &layout); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.UpdatePersonalSpace(r.Context(), requestUser(r).ID, layout); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Service) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var item store.ItemRef
	if err := decodeBody(r, &item); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.AddItem(r.Context(), requestUser(r).ID, item); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Service) handleAddService(w http.ResponseWriter, r *http.Request) {
	if err := s.AddService(r.Context(), requestUser(r).ID, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Service) handleAddGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.AddGroup(r.Context(), requestUser(r).ID, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Service) handleAddBookmark(w http.ResponseWriter, r *http.Request) {
	if err := s.AddBookmark(r.Context(), requestUser(r).ID, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Service) handleRemoveElement(w http.ResponseWriter, r *http.Request) {
	err := s.RemoveElement(r.Context(), requestUser(r).ID, chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Service) handleBackToDefault(w http.ResponseWriter, r *http.Request) {
	err := s.BackToDefaultElement(r.Context(), requestUser(r).ID, chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Service) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if err := s.CheckPersonalSpace(r.Context(), requestUser(r).ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Service) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := search.Query{
		Text:       r.URL.Query().Get("q"),
		FilterType: search.ResultType(r.URL.Query().Get("type")),
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		q.Limit = limit
	}
	if offset, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
		q.Offset = offset
	}
	response, err := s.SearchDirectory(r.Context(), requestUser(r).ID, q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, response)
}
