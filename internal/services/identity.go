package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"welth/internal/core"
	"welth/internal/log"
)

// Identity-provider event types.
const (
	UserCreated = "user.created"
	UserUpdated = "user.updated"
	UserDeleted = "user.deleted"
)

// UserStore is the part of the store identity events touch.
type UserStore interface {
	UpsertUser(ctx context.Context, u core.User) (core.User, error)
	DeleteUser(ctx context.Context, clerkID string) (bool, error)
}

// IdentityEvent is a verified webhook payload.
type IdentityEvent struct {
	Type string       `json:"type"`
	Data IdentityUser `json:"data"`
}

type IdentityUser struct {
	ID             string          `json:"id"`
	FirstName      string          `json:"first_name"`
	LastName       string          `json:"last_name"`
	ImageURL       string          `json:"image_url"`
	EmailAddresses []IdentityEmail `json:"email_addresses"`
}

type IdentityEmail struct {
	EmailAddress string `json:"email_address"`
}

// Email returns the first address, or a placeholder when there is none.
func (u IdentityUser) Email() string {
	for _, e := range u.EmailAddresses {
		if e.EmailAddress != "" {
			return e.EmailAddress
		}
	}
	return fmt.Sprintf("user-%s@temp.local", u.ID)
}

// DisplayName joins first and last name, falling back to "User".
func (u IdentityUser) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		return "User"
	}
	return name
}

// IdentityService mirrors identity-provider users into the ledger.
type IdentityService struct {
	users UserStore
}

func NewIdentityService(users UserStore) *IdentityService {
	return &IdentityService{users: users}
}

// HandleEvent applies one verified webhook payload. Unknown event types are
// acknowledged and ignored.
func (s *IdentityService) HandleEvent(ctx context.Context, payload []byte) error {
	const op = "handle identity event"
	var evt IdentityEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return core.Invalid(op, err)
	}

	switch evt.Type {
	case UserCreated, UserUpdated, UserDeleted:
		if strings.TrimSpace(evt.Data.ID) == "" {
			return core.Invalidf(op, "event without user id")
		}
	default:
		slog.InfoContext(ctx, "Ignoring identity event", log.FieldEventType, evt.Type)
		return nil
	}

	switch evt.Type {
	case UserDeleted:
		deleted, err := s.users.DeleteUser(ctx, evt.Data.ID)
		if err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		if !deleted {
			slog.InfoContext(ctx, "Deleted user was unknown", "clerk_user_id", evt.Data.ID)
		}
		return nil
	default:
		_, err := s.users.UpsertUser(ctx, core.User{
			ClerkUserID: evt.Data.ID,
			Email:       evt.Data.Email(),
			Name:        evt.Data.DisplayName(),
			ImageURL:    evt.Data.ImageURL,
		})
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		return nil
	}
}
