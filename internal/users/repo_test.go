package users

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/suPer8Hu/chat-platform/internal/chat"
	"github.com/suPer8Hu/chat-platform/internal/models"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestRepo_CreateAndFind(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	u := &models.User{Username: "alice", Email: "alice@mail.com", PasswordHash: "x"}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.ID == 0 {
		t.Fatalf("expected id to be set")
	}

	p, err := repo.FindByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if p.UserID != u.ID || p.Username != "alice" || p.Email != "alice@mail.com" {
		t.Fatalf("unexpected participant: %+v", p)
	}
}

func TestRepo_CreateDuplicate(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, &models.User{Username: "alice", Email: "a@mail.com", PasswordHash: "x"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, u := range []*models.User{
		{Username: "alice", Email: "other@mail.com", PasswordHash: "x"},
		{Username: "other", Email: "a@mail.com", PasswordHash: "x"},
	} {
		if err := repo.Create(ctx, u); !errors.Is(err, ErrTaken) {
			t.Fatalf("expected ErrTaken for %s/%s, got %v", u.Username, u.Email, err)
		}
	}
}

func TestRepo_FindMissing(t *testing.T) {
	repo := NewRepo(openTestDB(t))

	for _, name := range []string{"ghost", ""} {
		if _, err := repo.FindByUsername(context.Background(), name); !errors.Is(err, chat.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for %q, got %v", name, err)
		}
	}
}

func TestRepo_ListUsernames(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	names, err := repo.ListUsernames(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected no usernames, got %v", names)
	}

	for _, n := range []string{"zed", "alice", "mike"} {
		if err := repo.Create(ctx, &models.User{Username: n, Email: n + "@mail.com", PasswordHash: "x"}); err != nil {
			t.Fatalf("create %s: %v", n, err)
		}
	}
	names, err = repo.ListUsernames(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if fmt.Sprint(names) != "[alice mike zed]" {
		t.Fatalf("unexpected order: %v", names)
	}
}

func TestRepo_UpdateProfile(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, &models.User{Username: "alice", Email: "a@mail.com", PasswordHash: "x"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	name, height := "Alice", 165.0
	bday := time.Date(1992, 7, 3, 0, 0, 0, 0, time.UTC)
	if _, err := repo.UpdateProfile(ctx, "alice", ProfileUpdate{
		Name:      &name,
		Height:    &height,
		Birthday:  &bday,
		Interests: []string{"chess"},
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	weight := 55.0
	u, err := repo.UpdateProfile(ctx, "alice", ProfileUpdate{Weight: &weight})
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if !u.ProfileComplete() {
		t.Fatalf("expected complete profile: %+v", u)
	}

	stored, err := repo.GetByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Name != "Alice" || stored.Height != 165 || stored.Weight != 55 {
		t.Fatalf("unexpected profile: %+v", stored)
	}
	if stored.Birthday == nil || !stored.Birthday.Equal(bday) {
		t.Fatalf("unexpected birthday: %v", stored.Birthday)
	}
	if len(stored.Interests) != 1 || stored.Interests[0] != "chess" {
		t.Fatalf("unexpected interests: %v", stored.Interests)
	}

	if _, err := repo.UpdateProfile(ctx, "ghost", ProfileUpdate{Name: &name}); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}
