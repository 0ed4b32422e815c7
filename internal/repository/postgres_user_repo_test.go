package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/menucatalog/internal/model"
)

func newTestUser(name, email string) (*model.User, *model.Identity) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	u := &model.User{ID: uuid.New().String(), Name: name, Email: email, CreatedAt: now, UpdatedAt: now}
	ident := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         u.ID,
		Provider:       model.ProviderGoogle,
		ProviderUserID: uuid.New().String(),
		CreatedAt:      now,
	}
	return u, ident
}

func TestPostgresIdentityRepo_FindUserIDAndLink(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	users := NewPostgresUserRepo(db)
	idents := NewPostgresIdentityRepo(db)

	u, ident := newTestUser("alice", "alice@example.com")
	if err := users.CreateWithIdentity(ctx, u, ident); err != nil {
		t.Fatalf("CreateWithIdentity: %v", err)
	}

	got, err := idents.FindUserID(ctx, model.ProviderGoogle, ident.ProviderUserID)
	if err != nil {
		t.Fatalf("FindUserID: %v", err)
	}
	if got != u.ID {
		t.Errorf("FindUserID = %q, want %q", got, u.ID)
	}

	missing, err := idents.FindUserID(ctx, model.ProviderGoogle, "unknown-subject")
	if err != nil {
		t.Fatalf("FindUserID: %v", err)
	}
	if missing != "" {
		t.Errorf("FindUserID(unknown) = %q, want empty", missing)
	}

	// 同じsubjectを二重に紐付けることはできない
	dup := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         u.ID,
		Provider:       model.ProviderGoogle,
		ProviderUserID: ident.ProviderUserID,
		CreatedAt:      time.Now(),
	}
	if err := idents.Link(ctx, dup); !errors.Is(err, ErrConstraintViolation) {
		t.Errorf("Link(duplicate subject) error = %v, want ErrConstraintViolation", err)
	}
}

func TestPostgresUserRepo_CreateWithIdentity_ConflictLeavesNoUser(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	users := NewPostgresUserRepo(db)

	first, ident := newTestUser("alice", "alice@example.com")
	if err := users.CreateWithIdentity(ctx, first, ident); err != nil {
		t.Fatalf("CreateWithIdentity: %v", err)
	}

	second, secondIdent := newTestUser("alice", "alice@example.com")
	secondIdent.ProviderUserID = ident.ProviderUserID
	err := users.CreateWithIdentity(ctx, second, secondIdent)
	if !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("error = %v, want ErrConstraintViolation", err)
	}

	got, err := users.FindByID(ctx, second.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got != nil {
		t.Error("user of the losing transaction should be rolled back")
	}
}

func TestPostgresUserRepo_FindByNameAndEmail_ReturnsOldest(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	users := NewPostgresUserRepo(db)

	older, olderIdent := newTestUser("carol", "carol@example.com")
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	if err := users.CreateWithIdentity(ctx, older, olderIdent); err != nil {
		t.Fatalf("CreateWithIdentity: %v", err)
	}
	newer, newerIdent := newTestUser("carol", "carol@example.com")
	if err := users.CreateWithIdentity(ctx, newer, newerIdent); err != nil {
		t.Fatalf("CreateWithIdentity: %v", err)
	}

	got, err := users.FindByNameAndEmail(ctx, "carol", "carol@example.com")
	if err != nil {
		t.Fatalf("FindByNameAndEmail: %v", err)
	}
	if got == nil || got.ID != older.ID {
		t.Errorf("FindByNameAndEmail = %+v, want oldest %s", got, older.ID)
	}

	none, err := users.FindByNameAndEmail(ctx, "nobody", "nobody@example.com")
	if err != nil {
		t.Fatalf("FindByNameAndEmail: %v", err)
	}
	if none != nil {
		t.Errorf("expected nil, got %+v", none)
	}
}

func TestPostgresUserRepo_UpdateProfile(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	users := NewPostgresUserRepo(db)

	u, ident := newTestUser("dave", "dave@example.com")
	if err := users.CreateWithIdentity(ctx, u, ident); err != nil {
		t.Fatalf("CreateWithIdentity: %v", err)
	}

	u.Name = "David"
	u.Picture = "https://lh3.googleusercontent.com/a/dave"
	u.UpdatedAt = u.UpdatedAt.Add(time.Minute)
	if err := users.UpdateProfile(ctx, u); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}

	got, err := users.FindByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Name != "David" || got.Picture != u.Picture {
		t.Errorf("profile not updated: %+v", got)
	}
}
