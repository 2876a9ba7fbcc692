package service

import (
	"path/filepath"
	"testing"
	"time"

	"journey/internal/database"
	"journey/internal/models"
	"journey/internal/repository"
)

type progressFixture struct {
	svc       *ProgressService
	progress  *repository.ProgressRepository
	profiles  *repository.ProfileRepository
	chapters  *repository.ChapterRepository
	userID    int64
	chapterID int64
	lessonIDs []int64
}

func setupProgressFixture(t *testing.T) *progressFixture {
	t.Helper()

	db, err := database.Initialize(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.RunMigrations("../../migrations"); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	chapterRepo := repository.NewChapterRepository(db)
	lessonRepo := repository.NewLessonRepository(db)
	progressRepo := repository.NewProgressRepository(db)
	profileRepo := repository.NewProfileRepository(db)

	user, err := userRepo.CreateUser("learner@example.com", "hash", "Learner")
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	if _, err := profileRepo.Create(user.ID); err != nil {
		t.Fatalf("failed to create profile: %v", err)
	}

	chapterID, err := chapterRepo.Upsert(&models.Chapter{
		Slug:          "foundations",
		Title:         "Foundations",
		OrderSequence: 1,
		Category:      "core",
		XPReward:      100,
		Status:        models.ContentPublished,
	})
	if err != nil {
		t.Fatalf("failed to create chapter: %v", err)
	}

	var lessonIDs []int64
	for i, slug := range []string{"first-steps", "second-steps", "third-steps"} {
		id, err := lessonRepo.Upsert(&models.Lesson{
			Slug:          slug,
			ChapterID:     chapterID,
			Title:         slug,
			EstimatedTime: 10,
			OrderSequence: i + 1,
			XPReward:      50,
			Status:        models.ContentPublished,
		})
		if err != nil {
			t.Fatalf("failed to create lesson %s: %v", slug, err)
		}
		lessonIDs = append(lessonIDs, id)
	}

	feed := database.NewInProcessFeed()
	t.Cleanup(func() { feed.Close() })

	svc := NewProgressService(db, progressRepo, profileRepo, chapterRepo, lessonRepo, feed, 1000)

	return &progressFixture{
		svc:       svc,
		progress:  progressRepo,
		profiles:  profileRepo,
		chapters:  chapterRepo,
		userID:    user.ID,
		chapterID: chapterID,
		lessonIDs: lessonIDs,
	}
}

func TestStartLessonIdempotent(t *testing.T) {
	f := setupProgressFixture(t)

	first, err := f.svc.StartLesson(f.userID, f.lessonIDs[0])
	if err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if first.StartedAt == nil {
		t.Fatal("expected started_at to be set")
	}
	if first.IsCompleted {
		t.Error("fresh start should not be completed")
	}

	second, err := f.svc.StartLesson(f.userID, f.lessonIDs[0])
	if err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	if second.IsCompleted {
		t.Error("restart should not complete the lesson")
	}

	rows, err := f.progress.ListByUser(f.userID)
	if err != nil {
		t.Fatalf("failed to list progress: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected a single progress row after two starts, got %d", len(rows))
	}
}

func TestStartLessonUnknown(t *testing.T) {
	f := setupProgressFixture(t)

	if _, err := f.svc.StartLesson(f.userID, 9999); err != ErrLessonNotFound {
		t.Errorf("expected ErrLessonNotFound, got %v", err)
	}
}

func TestStartCompletedLessonIsNoOp(t *testing.T) {
	f := setupProgressFixture(t)

	if _, err := f.svc.StartLesson(f.userID, f.lessonIDs[0]); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := f.svc.CompleteLesson(f.userID, f.lessonIDs[0]); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	row, err := f.svc.StartLesson(f.userID, f.lessonIDs[0])
	if err != nil {
		t.Fatalf("restart of completed lesson failed: %v", err)
	}
	if !row.IsCompleted {
		t.Error("completed lesson lost its completion on restart")
	}
}

func TestCompleteLessonAwardsXPOnce(t *testing.T) {
	f := setupProgressFixture(t)

	if _, err := f.svc.StartLesson(f.userID, f.lessonIDs[0]); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	result, err := f.svc.CompleteLesson(f.userID, f.lessonIDs[0])
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if result.AlreadyCompleted {
		t.Error("first completion reported as repeat")
	}
	if result.XPAwarded != 50 {
		t.Errorf("expected 50 XP awarded, got %d", result.XPAwarded)
	}

	repeat, err := f.svc.CompleteLesson(f.userID, f.lessonIDs[0])
	if err != nil {
		t.Fatalf("repeat complete failed: %v", err)
	}
	if !repeat.AlreadyCompleted {
		t.Error("repeat completion not flagged")
	}
	if repeat.XPAwarded != 0 {
		t.Errorf("repeat completion awarded %d XP", repeat.XPAwarded)
	}

	profile, err := f.profiles.GetByUserID(f.userID)
	if err != nil {
		t.Fatalf("failed to load profile: %v", err)
	}
	if profile.TotalXP != 50 {
		t.Errorf("expected total XP 50, got %d", profile.TotalXP)
	}
	if profile.StreakCount != 1 {
		t.Errorf("expected streak 1 after first activity, got %d", profile.StreakCount)
	}
}

func TestCompleteLessonChapterAggregate(t *testing.T) {
	f := setupProgressFixture(t)

	for i, lessonID := range f.lessonIDs {
		if _, err := f.svc.StartLesson(f.userID, lessonID); err != nil {
			t.Fatalf("start lesson %d failed: %v", i, err)
		}
		if _, err := f.svc.CompleteLesson(f.userID, lessonID); err != nil {
			t.Fatalf("complete lesson %d failed: %v", i, err)
		}

		agg, err := f.progress.GetChapterProgress(f.userID, f.chapterID)
		if err != nil {
			t.Fatalf("failed to load chapter progress: %v", err)
		}
		if agg == nil {
			t.Fatal("expected a chapter progress row")
		}
		if agg.CompletedLessons != i+1 {
			t.Errorf("after %d completions aggregate shows %d", i+1, agg.CompletedLessons)
		}
		wantDone := i+1 == len(f.lessonIDs)
		if agg.IsCompleted != wantDone {
			t.Errorf("after %d completions is_completed = %v, want %v", i+1, agg.IsCompleted, wantDone)
		}
	}
}

func TestCompleteLessonLevelsUp(t *testing.T) {
	f := setupProgressFixture(t)

	// Pre-load the profile just under the level boundary; the 50 XP reward
	// must push it over.
	profile, err := f.profiles.GetByUserID(f.userID)
	if err != nil {
		t.Fatalf("failed to load profile: %v", err)
	}
	profile.TotalXP = 980
	if err := f.profiles.Update(profile); err != nil {
		t.Fatalf("failed to update profile: %v", err)
	}

	if _, err := f.svc.StartLesson(f.userID, f.lessonIDs[0]); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	result, err := f.svc.CompleteLesson(f.userID, f.lessonIDs[0])
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	if result.Profile == nil {
		t.Fatal("expected completion to return the updated profile")
	}
	if result.Profile.TotalXP != 1030 {
		t.Errorf("expected total XP 1030, got %d", result.Profile.TotalXP)
	}
	if result.Profile.CurrentLevel != 2 {
		t.Errorf("expected level 2 at 1030 XP, got %d", result.Profile.CurrentLevel)
	}
}

func TestUnlockChapterIdempotent(t *testing.T) {
	f := setupProgressFixture(t)

	if err := f.svc.UnlockChapter(f.userID, f.chapterID); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if err := f.svc.UnlockChapter(f.userID, f.chapterID); err != nil {
		t.Fatalf("repeat unlock failed: %v", err)
	}

	agg, err := f.progress.GetChapterProgress(f.userID, f.chapterID)
	if err != nil {
		t.Fatalf("failed to load chapter progress: %v", err)
	}
	if agg == nil {
		t.Fatal("expected a chapter progress row after unlock")
	}
	if agg.CompletedLessons != 0 || agg.IsCompleted {
		t.Errorf("unlock should not mark progress: %+v", agg)
	}
}

func TestApplyStreak(t *testing.T) {
	day := func(d int) time.Time {
		return time.Date(2026, 3, d, 15, 0, 0, 0, time.UTC)
	}
	dayPtr := func(d int) *time.Time {
		t := day(d).Truncate(24 * time.Hour)
		return &t
	}

	tests := []struct {
		name     string
		before   models.Profile
		now      time.Time
		expected int
	}{
		{
			name:     "first activity",
			before:   models.Profile{StreakCount: 0},
			now:      day(10),
			expected: 1,
		},
		{
			name:     "same day does not increment",
			before:   models.Profile{StreakCount: 3, LastActivityDate: dayPtr(10)},
			now:      day(10),
			expected: 3,
		},
		{
			name:     "consecutive day increments",
			before:   models.Profile{StreakCount: 3, LastActivityDate: dayPtr(9)},
			now:      day(10),
			expected: 4,
		},
		{
			name:     "gap resets to one",
			before:   models.Profile{StreakCount: 9, LastActivityDate: dayPtr(7)},
			now:      day(10),
			expected: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := tt.before
			applyStreak(&profile, tt.now)
			if profile.StreakCount != tt.expected {
				t.Errorf("streak = %d, want %d", profile.StreakCount, tt.expected)
			}
			if profile.LastActivityDate == nil {
				t.Fatal("last activity date not set")
			}
			want := tt.now.Truncate(24 * time.Hour)
			if !profile.LastActivityDate.Equal(want) {
				t.Errorf("last activity = %v, want %v", profile.LastActivityDate, want)
			}
		})
	}
}
