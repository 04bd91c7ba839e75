// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// handler_test.go provides shared test infrastructure for the handler
// tests: an in-memory store, a miniredis-backed cache and a drainable job
// queue, mounted on a chi router the same way the real router does.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"forumcat/internal/cache"
	"forumcat/internal/category"
	"forumcat/internal/events"
	"forumcat/internal/follow"
	"forumcat/internal/jobs"
	"forumcat/internal/middleware"
	"forumcat/internal/models"
	"forumcat/internal/permission"
	"forumcat/internal/session"
	"forumcat/internal/store/memory"
)

const (
	adminID  int64 = 1
	memberID int64 = 2
)

type testEnv struct {
	store   *memory.Store
	queue   *jobs.Queue
	checker *permission.GrantChecker
	bus     *events.Bus
	model   *category.Model
	router  chi.Router
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	st := memory.New()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	require.NoError(t, st.AddGrant(ctx, models.Grant{RoleID: 1, CategoryID: models.RootID, Permission: models.PermDiscussionsView}))
	require.NoError(t, st.AddGrant(ctx, models.Grant{RoleID: 1, CategoryID: models.RootID, Permission: models.PermDiscussionsAdd}))
	require.NoError(t, st.AddGrant(ctx, models.Grant{RoleID: 2, CategoryID: models.RootID, Permission: models.PermCategoriesManage}))
	require.NoError(t, st.AssignRole(ctx, adminID, 1))
	require.NoError(t, st.AssignRole(ctx, adminID, 2))
	require.NoError(t, st.AssignRole(ctx, memberID, 1))

	q := jobs.NewQueue(nil)
	c := cache.New(client, st, st, q, cache.Options{TTL: time.Minute}, nil)
	bus := events.NewBus(100, nil)
	checker := permission.NewGrantChecker(st, permission.CheckerOptions{}, nil)
	model := category.New(st, c, checker, bus, category.Options{DeleteBatchSize: 10}, nil)
	require.NoError(t, model.Init(ctx))

	cats := NewCategories(model, checker)
	follows := NewFollows(follow.New(st, c, bus, 3, nil))

	r := chi.NewRouter()
	r.Route("/categories", func(r chi.Router) {
		r.Get("/", cats.Visible)
		r.Get("/tree", cats.Tree)
		r.Get("/search", cats.Search)
		r.Get("/followed", follows.Followed)
		r.Get("/code/{code}", cats.ByCode)
		r.Get("/{id}", cats.Get)
		r.Get("/{id}/children", cats.Children)
		r.Get("/{id}/ancestors", cats.Ancestors)
		r.Post("/", cats.Create)
		r.Put("/tree", cats.SaveTree)
		r.Patch("/{id}", cats.Update)
		r.Delete("/{id}", cats.Delete)
		r.Post("/{id}/posts", cats.RecordPost)
		r.Put("/{id}/follow", follows.Follow)
		r.Get("/{id}/preferences", follows.Preferences)
		r.Patch("/{id}/preferences", follows.SetPreferences)
		r.Post("/{id}/read", follows.MarkRead)
	})

	return &testEnv{store: st, queue: q, checker: checker, bus: bus, model: model, router: r}
}

// do sends a request as userID (0 for a guest) and returns the recorder.
func (e *testEnv) do(t *testing.T, userID int64, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req = req.WithContext(middleware.WithSession(req.Context(), &session.Data{UserID: userID}))
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// create adds a category through the API and returns its ID.
func (e *testEnv) create(t *testing.T, name string, parentID int64) int64 {
	t.Helper()
	rr := e.do(t, adminID, http.MethodPost, "/categories", map[string]any{
		"name":               name,
		"parent_category_id": parentID,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var cat models.Category
	decodeData(t, rr, &cat)
	return cat.CategoryID
}

// decodeData unwraps the data member of a success envelope into dst.
func decodeData(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

// errorCode returns the code of an error envelope.
func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var env response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.NotNil(t, env.Error, "expected an error envelope, got %s", rr.Body.String())
	return env.Error.Code
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
