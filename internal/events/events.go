// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package events defines the category event envelope and the publishers
// that deliver it: Kafka in production, an in-process bus otherwise.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeCategoryCreated     = "category.created"
	TypeCategoryUpdated     = "category.updated"
	TypeCategoryDeleted     = "category.deleted"
	TypeSubscriptionChanged = "category.subscription_changed"

	AggregateTypeCategory = "category"
	SourceCategoryService = "forumcat"
)

// Event is the envelope of every published message.
type Event struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	AggregateID   string            `json:"aggregate_id"`
	AggregateType string            `json:"aggregate_type"`
	Version       int               `json:"version"`
	Timestamp     time.Time         `json:"timestamp"`
	Source        string            `json:"source"`
	Data          json.RawMessage   `json:"data"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewCategoryEvent builds an envelope for a category aggregate.
func NewCategoryEvent(eventType string, categoryID int64, data any) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		AggregateID:   strconv.FormatInt(categoryID, 10),
		AggregateType: AggregateTypeCategory,
		Version:       1,
		Timestamp:     time.Now().UTC(),
		Source:        SourceCategoryService,
		Data:          raw,
	}, nil
}

// WithMetadata adds a key-value pair to the event metadata.
func (e *Event) WithMetadata(key, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// UnmarshalData decodes the payload into target.
func (e *Event) UnmarshalData(target any) error {
	return json.Unmarshal(e.Data, target)
}

// Publisher delivers events. Implementations must be safe for concurrent
// use.
type Publisher interface {
	Publish(ctx context.Context, e *Event) error
}

// CategoryData is the payload of created and updated events.
type CategoryData struct {
	CategoryID       int64  `json:"category_id"`
	ParentCategoryID int64  `json:"parent_category_id"`
	Name             string `json:"name"`
	UrlCode          string `json:"url_code"`
	DisplayAs        string `json:"display_as"`
	UserID           int64  `json:"user_id,omitempty"`
}

// DeletedData is the payload of category.deleted.
type DeletedData struct {
	CategoryID    int64   `json:"category_id"`
	ReplacementID int64   `json:"replacement_id,omitempty"`
	DeletedIDs    []int64 `json:"deleted_ids"`
	MovedItems    int     `json:"moved_items"`
}

// SubscriptionData is the payload of category.subscription_changed. One
// event is emitted per changed preference key.
type SubscriptionData struct {
	UserID        int64  `json:"user_id"`
	CategoryID    int64  `json:"category_id"`
	Preference    string `json:"preference"`
	OldValue      bool   `json:"old_value"`
	NewValue      bool   `json:"new_value"`
	FollowerCount int    `json:"follower_count"`
	DigestCount   int    `json:"digest_count"`
}
