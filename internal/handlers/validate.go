// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"forumcat/internal/apperr"
	"forumcat/internal/models"
)

// Limits on request parameters.
const (
	maxSearchQueryLen = 100
	maxTreeItems      = 10_000
	maxChildDepth     = models.MaxTreeDepth
)

// pathID parses the {id} URL parameter.
func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Invalid("invalid category id %q", raw)
	}
	return id, nil
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Invalid("query parameter %s must be an integer", name)
	}
	return n, nil
}

// queryInt64 parses an optional 64-bit integer query parameter.
func queryInt64(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.Invalid("query parameter %s must be an integer", name)
	}
	return n, nil
}

// queryBool parses an optional boolean query parameter.
func queryBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperr.Invalid("query parameter %s must be a boolean", name)
	}
	return b, nil
}

// validateSearchQuery checks the free-text part of a search request.
func validateSearchQuery(q string) error {
	q = strings.TrimSpace(q)
	if q == "" {
		return apperr.Invalid("search query is required")
	}
	if utf8.RuneCountInString(q) > maxSearchQueryLen {
		return apperr.Invalid("search query is too long (max %d characters)", maxSearchQueryLen)
	}
	return nil
}

// validateDepth checks the depth limit of a child tree request.
func validateDepth(depth int) error {
	if depth < 0 || depth > maxChildDepth {
		return apperr.Invalid("depth must be between 0 and %d", maxChildDepth)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateRequest runs the validate tags of a request body.
func validateRequest(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperr.Invalid("%v", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("field '%s' failed on '%s'", fe.Field(), fe.Tag()))
	}
	return apperr.Invalid("%s", strings.Join(msgs, "; "))
}
