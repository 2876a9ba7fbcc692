package repository

import (
	"path/filepath"
	"testing"
	"time"

	"journey/internal/database"
)

func setupRepoDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Initialize(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.RunMigrations("../../migrations"); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db
}

func createTestUser(t *testing.T, db *database.DB, email string) int64 {
	t.Helper()
	user, err := NewUserRepository(db).CreateUser(email, "hash", "Learner")
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user.ID
}

func TestProfileCreateAndGet(t *testing.T) {
	db := setupRepoDB(t)
	repo := NewProfileRepository(db)
	userID := createTestUser(t, db, "learner@example.com")

	created, err := repo.Create(userID)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.CurrentLevel != 1 || created.TotalXP != 0 || created.StreakCount != 0 {
		t.Errorf("fresh profile = %+v", created)
	}

	loaded, err := repo.GetByUserID(userID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("profile not found after create")
	}
	if loaded.LastActivityDate != nil {
		t.Error("fresh profile should have no activity date")
	}

	missing, err := repo.GetByUserID(9999)
	if err != nil {
		t.Fatalf("get for unknown user failed: %v", err)
	}
	if missing != nil {
		t.Error("expected nil profile for unknown user")
	}
}

func TestProfileUpdate(t *testing.T) {
	db := setupRepoDB(t)
	repo := NewProfileRepository(db)
	userID := createTestUser(t, db, "learner@example.com")

	profile, err := repo.Create(userID)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	activity := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	profile.TotalXP = 250
	profile.CurrentLevel = 1
	profile.StreakCount = 4
	profile.LastActivityDate = &activity

	if err := repo.Update(profile); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	loaded, err := repo.GetByUserID(userID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if loaded.TotalXP != 250 || loaded.StreakCount != 4 {
		t.Errorf("updated profile = %+v", loaded)
	}
	if loaded.LastActivityDate == nil || !loaded.LastActivityDate.Equal(activity) {
		t.Errorf("last activity = %v, want %v", loaded.LastActivityDate, activity)
	}
}

func TestResetLapsedStreaks(t *testing.T) {
	db := setupRepoDB(t)
	repo := NewProfileRepository(db)

	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	cutoff := now.AddDate(0, 0, -1)

	seed := func(email string, streak int, lastActivity *time.Time) int64 {
		userID := createTestUser(t, db, email)
		profile, err := repo.Create(userID)
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		profile.StreakCount = streak
		profile.LastActivityDate = lastActivity
		if err := repo.Update(profile); err != nil {
			t.Fatalf("update failed: %v", err)
		}
		return userID
	}

	yesterday := cutoff
	twoDaysAgo := now.AddDate(0, 0, -2)

	activeID := seed("active@example.com", 5, &yesterday)
	lapsedID := seed("lapsed@example.com", 9, &twoDaysAgo)
	idleID := seed("idle@example.com", 0, nil)

	affected, err := repo.ResetLapsedStreaks(cutoff)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if affected != 1 {
		t.Errorf("sweep affected %d rows, want 1", affected)
	}

	check := func(userID int64, want int) {
		t.Helper()
		profile, err := repo.GetByUserID(userID)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if profile.StreakCount != want {
			t.Errorf("user %d streak = %d, want %d", userID, profile.StreakCount, want)
		}
	}

	// Activity exactly at the cutoff survives; the streak ends only after a
	// second missed midnight.
	check(activeID, 5)
	check(lapsedID, 0)
	check(idleID, 0)
}
