package service

import (
	"path/filepath"
	"testing"

	"journey/internal/database"
	"journey/internal/models"
	"journey/internal/repository"
)

type journeyFixture struct {
	journey   *JourneyService
	progress  *ProgressService
	userID    int64
	chapterID int64
	draftID   int64
	lessonIDs []int64
}

func setupJourneyFixture(t *testing.T) *journeyFixture {
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
		Status:        models.ContentPublished,
	})
	if err != nil {
		t.Fatalf("failed to create chapter: %v", err)
	}
	draftID, err := chapterRepo.Upsert(&models.Chapter{
		Slug:          "advanced",
		Title:         "Advanced",
		OrderSequence: 2,
		Status:        models.ContentDraft,
	})
	if err != nil {
		t.Fatalf("failed to create draft chapter: %v", err)
	}

	var lessonIDs []int64
	for i, slug := range []string{"alpha", "beta", "gamma"} {
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
		if err := lessonRepo.UpsertContent(id, "# "+slug, 1); err != nil {
			t.Fatalf("failed to store content for %s: %v", slug, err)
		}
	}

	feed := database.NewInProcessFeed()
	t.Cleanup(func() { feed.Close() })

	return &journeyFixture{
		journey:   NewJourneyService(chapterRepo, lessonRepo, progressRepo, profileRepo),
		progress:  NewProgressService(db, progressRepo, profileRepo, chapterRepo, lessonRepo, feed, 1000),
		userID:    user.ID,
		chapterID: chapterID,
		draftID:   draftID,
		lessonIDs: lessonIDs,
	}
}

func (f *journeyFixture) complete(t *testing.T, lessonID int64) {
	t.Helper()
	if _, err := f.progress.StartLesson(f.userID, lessonID); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := f.progress.CompleteLesson(f.userID, lessonID); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
}

func TestGetChapterUnknownSlug(t *testing.T) {
	f := setupJourneyFixture(t)

	detail, err := f.journey.GetChapter(f.userID, "no-such-chapter")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detail != nil {
		t.Error("expected nil detail for unknown slug")
	}
}

func TestGetChapterSequentialLock(t *testing.T) {
	f := setupJourneyFixture(t)

	detail, err := f.journey.GetChapter(f.userID, "foundations")
	if err != nil {
		t.Fatalf("failed to load chapter: %v", err)
	}
	if detail == nil {
		t.Fatal("expected chapter detail")
	}
	if len(detail.Lessons) != 3 {
		t.Fatalf("expected 3 lessons, got %d", len(detail.Lessons))
	}

	if detail.Lessons[0].PositionLocked {
		t.Error("first lesson must never be position-locked")
	}
	if detail.Lessons[0].DisplayStatus != models.StatusAvailable {
		t.Errorf("first lesson status = %s, want available", detail.Lessons[0].DisplayStatus)
	}
	if !detail.Lessons[1].PositionLocked || !detail.Lessons[2].PositionLocked {
		t.Error("later lessons must be locked while predecessors are incomplete")
	}

	f.complete(t, f.lessonIDs[0])

	detail, err = f.journey.GetChapter(f.userID, "foundations")
	if err != nil {
		t.Fatalf("failed to reload chapter: %v", err)
	}
	if detail.Lessons[0].DisplayStatus != models.StatusCompleted {
		t.Errorf("completed lesson status = %s", detail.Lessons[0].DisplayStatus)
	}
	if detail.Lessons[1].PositionLocked {
		t.Error("second lesson should unlock once the first is completed")
	}
	if !detail.Lessons[2].PositionLocked {
		t.Error("third lesson should stay locked until the second is completed")
	}
	if detail.CompletedLessons != 1 {
		t.Errorf("completed count = %d, want 1", detail.CompletedLessons)
	}
}

func TestGetChaptersProgressCounts(t *testing.T) {
	f := setupJourneyFixture(t)
	f.complete(t, f.lessonIDs[0])

	views, err := f.journey.GetChapters(f.userID)
	if err != nil {
		t.Fatalf("failed to load chapters: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 chapters, got %d", len(views))
	}

	foundations := views[0]
	if foundations.Slug != "foundations" {
		t.Fatalf("chapters out of order: %s first", foundations.Slug)
	}
	if foundations.TotalLessons != 3 || foundations.CompletedLessons != 1 {
		t.Errorf("foundations counts = %d/%d", foundations.CompletedLessons, foundations.TotalLessons)
	}
	if foundations.DisplayStatus != models.StatusAvailable {
		t.Errorf("published chapter status = %s", foundations.DisplayStatus)
	}
	if views[1].DisplayStatus != models.StatusLocked {
		t.Errorf("draft chapter status = %s, want locked", views[1].DisplayStatus)
	}
}

func TestGetLessonNavigation(t *testing.T) {
	f := setupJourneyFixture(t)
	f.complete(t, f.lessonIDs[0])

	page, err := f.journey.GetLesson(f.userID, "foundations", "beta")
	if err != nil {
		t.Fatalf("failed to load lesson: %v", err)
	}
	if page == nil {
		t.Fatal("expected lesson page")
	}
	if !page.Available {
		t.Error("second lesson should be available after completing the first")
	}
	if page.PrevLessonSlug != "alpha" || page.NextLessonSlug != "gamma" {
		t.Errorf("navigation = prev %q, next %q", page.PrevLessonSlug, page.NextLessonSlug)
	}
	if page.View.Content != "# beta" {
		t.Errorf("content = %q", page.View.Content)
	}
}

func TestGetLessonUnknownChain(t *testing.T) {
	f := setupJourneyFixture(t)

	tests := []struct {
		name        string
		chapterSlug string
		lessonSlug  string
	}{
		{"unknown chapter", "no-such-chapter", "alpha"},
		{"unknown lesson", "foundations", "no-such-lesson"},
		{"lesson in wrong chapter", "advanced", "alpha"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := f.journey.GetLesson(f.userID, tt.chapterSlug, tt.lessonSlug)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if page != nil {
				t.Error("expected nil page")
			}
		})
	}
}

func TestCheckLessonAvailability(t *testing.T) {
	f := setupJourneyFixture(t)

	available, err := f.journey.CheckLessonAvailability(f.userID, f.lessonIDs[0])
	if err != nil {
		t.Fatalf("availability check failed: %v", err)
	}
	if !available {
		t.Error("first lesson should always be available")
	}

	available, err = f.journey.CheckLessonAvailability(f.userID, f.lessonIDs[1])
	if err != nil {
		t.Fatalf("availability check failed: %v", err)
	}
	if available {
		t.Error("second lesson should be unavailable before the first is completed")
	}

	f.complete(t, f.lessonIDs[0])

	available, err = f.journey.CheckLessonAvailability(f.userID, f.lessonIDs[1])
	if err != nil {
		t.Fatalf("availability check failed: %v", err)
	}
	if !available {
		t.Error("second lesson should unlock after the first is completed")
	}
}

func TestSearchLessons(t *testing.T) {
	f := setupJourneyFixture(t)
	f.complete(t, f.lessonIDs[0])

	results, err := f.journey.SearchLessons("alpha", f.userID, 20)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	hit := results[0]
	if hit.Lesson.Slug != "alpha" {
		t.Errorf("matched %s", hit.Lesson.Slug)
	}
	if hit.ChapterSlug != "foundations" || hit.ChapterTitle != "Foundations" {
		t.Errorf("chapter context = %s / %s", hit.ChapterSlug, hit.ChapterTitle)
	}
	if hit.Status != models.StatusCompleted {
		t.Errorf("status = %s, want completed", hit.Status)
	}

	none, err := f.journey.SearchLessons("zzzzz", f.userID, 20)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no results, got %d", len(none))
	}
}
