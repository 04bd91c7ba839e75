// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package router sets up all HTTP routes and middleware chains of the
// category API. Reads are open to guests, follow state needs a session and
// tree management needs the manage permission on the root junction.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"forumcat/internal/handlers"
	"forumcat/internal/middleware"
	"forumcat/internal/models"
	"forumcat/internal/permission"
)

// Deps are the collaborators New wires into the routes. Limiter is
// optional.
type Deps struct {
	Sessions   middleware.SessionStore
	Checker    permission.Checker
	Categories *handlers.Categories
	Follows    *handlers.Follows
	Limiter    *middleware.RateLimiter
}

// New creates and returns the configured Chi router with all middleware
// and route groups wired up.
func New(d Deps) chi.Router {
	r := chi.NewRouter()

	// Global middleware, applied to every request.
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecureHeaders)
	r.Use(middleware.LoadSession(d.Sessions))
	r.Use(middleware.Logger)

	r.Get("/health", healthHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/categories", func(r chi.Router) {
		if d.Limiter != nil {
			r.Use(d.Limiter.Middleware)
		}

		r.Get("/", d.Categories.Visible)
		r.Get("/tree", d.Categories.Tree)
		r.Get("/search", d.Categories.Search)
		r.Get("/code/{code}", d.Categories.ByCode)
		r.Get("/{id}", d.Categories.Get)
		r.Get("/{id}/children", d.Categories.Children)
		r.Get("/{id}/ancestors", d.Categories.Ancestors)

		// Per-user state.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser)
			r.Get("/followed", d.Follows.Followed)
			r.Put("/{id}/follow", d.Follows.Follow)
			r.Get("/{id}/preferences", d.Follows.Preferences)
			r.Patch("/{id}/preferences", d.Follows.SetPreferences)
			r.Post("/{id}/read", d.Follows.MarkRead)
			r.Post("/{id}/posts", d.Categories.RecordPost)
		})

		// Tree management.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequirePermission(d.Checker, models.PermCategoriesManage))
			r.Post("/", d.Categories.Create)
			r.Put("/tree", d.Categories.SaveTree)
			r.Patch("/{id}", d.Categories.Update)
			r.Delete("/{id}", d.Categories.Delete)
		})
	})

	return r
}

// healthHandler returns a simple JSON health check response.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
