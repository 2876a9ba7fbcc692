package service

import (
	"errors"
	"fmt"
	"time"

	"journey/internal/database"
	"journey/internal/models"
	"journey/internal/repository"
)

var ErrLessonNotFound = errors.New("lesson not found")

// ProgressService owns all progress writes. Lesson completion runs in a
// single transaction so the progress row, profile and chapter aggregate
// never drift apart.
type ProgressService struct {
	db           *database.DB
	progressRepo *repository.ProgressRepository
	profileRepo  *repository.ProfileRepository
	chapterRepo  *repository.ChapterRepository
	lessonRepo   *repository.LessonRepository
	feed         database.ChangeFeed
	xpPerLevel   int
}

// NewProgressService creates a new progress service
func NewProgressService(db *database.DB, progressRepo *repository.ProgressRepository, profileRepo *repository.ProfileRepository, chapterRepo *repository.ChapterRepository, lessonRepo *repository.LessonRepository, feed database.ChangeFeed, xpPerLevel int) *ProgressService {
	return &ProgressService{
		db:           db,
		progressRepo: progressRepo,
		profileRepo:  profileRepo,
		chapterRepo:  chapterRepo,
		lessonRepo:   lessonRepo,
		feed:         feed,
		xpPerLevel:   xpPerLevel,
	}
}

// CompletionResult reports what a completion changed
type CompletionResult struct {
	XPAwarded        int
	AlreadyCompleted bool
	Profile          *models.Profile
}

// StartLesson records that the user began a lesson. Starting is idempotent:
// a completed lesson is left untouched, an in-progress lesson gets a fresh
// started_at, and a concurrent duplicate insert is resolved by re-reading
// the winning row.
func (s *ProgressService) StartLesson(userID, lessonID int64) (*models.LessonProgress, error) {
	lesson, err := s.lessonRepo.GetByID(lessonID)
	if err != nil {
		return nil, err
	}
	if lesson == nil {
		return nil, ErrLessonNotFound
	}

	existing, err := s.progressRepo.Get(userID, lessonID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	switch {
	case existing != nil && existing.IsCompleted:
		return existing, nil
	case existing != nil:
		if err := s.progressRepo.UpdateStartedAt(userID, lessonID, now); err != nil {
			return nil, fmt.Errorf("failed to restart lesson: %w", err)
		}
	default:
		err := s.progressRepo.Insert(userID, lessonID, now)
		if err != nil && !s.progressRepo.IsUniqueViolation(err) {
			return nil, fmt.Errorf("failed to start lesson: %w", err)
		}
	}

	progress, err := s.progressRepo.Get(userID, lessonID)
	if err != nil {
		return nil, err
	}

	s.notify(userID)
	return progress, nil
}

// CompleteLesson marks the lesson completed and, when this is the first
// completion, awards its XP, advances the level, updates the streak and
// recomputes the chapter aggregate. All writes share one transaction.
// Re-completing refreshes completed_at but awards nothing.
func (s *ProgressService) CompleteLesson(userID, lessonID int64) (*CompletionResult, error) {
	lesson, err := s.lessonRepo.GetByID(lessonID)
	if err != nil {
		return nil, err
	}
	if lesson == nil {
		return nil, ErrLessonNotFound
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	progressRepo := s.progressRepo.WithTx(tx)
	profileRepo := s.profileRepo.WithTx(tx)
	chapterRepo := s.chapterRepo.WithTx(tx)

	existing, err := progressRepo.Get(userID, lessonID)
	if err != nil {
		return nil, err
	}
	alreadyCompleted := existing != nil && existing.IsCompleted

	now := time.Now().UTC()
	if err := progressRepo.MarkCompleted(userID, lessonID, now); err != nil {
		return nil, fmt.Errorf("failed to mark lesson completed: %w", err)
	}

	result := &CompletionResult{AlreadyCompleted: alreadyCompleted}

	if !alreadyCompleted {
		profile, err := profileRepo.GetByUserID(userID)
		if err != nil {
			return nil, err
		}
		if profile == nil {
			profile, err = profileRepo.Create(userID)
			if err != nil {
				return nil, fmt.Errorf("failed to create profile: %w", err)
			}
		}

		profile.TotalXP += lesson.XPReward
		profile.CurrentLevel = models.LevelForXP(profile.TotalXP, s.xpPerLevel)
		applyStreak(profile, now)

		if err := profileRepo.Update(profile); err != nil {
			return nil, fmt.Errorf("failed to update profile: %w", err)
		}
		result.XPAwarded = lesson.XPReward
		result.Profile = profile
	}

	if err := recomputeChapterAggregate(progressRepo, chapterRepo, userID, lesson.ChapterID, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit completion: %w", err)
	}

	s.notify(userID)
	return result, nil
}

// UnlockChapter records that the user has opened a chapter. Unlocking is
// explicit; completing one chapter never unlocks the next automatically.
func (s *ProgressService) UnlockChapter(userID, chapterID int64) error {
	chapter, err := s.chapterRepo.GetByID(chapterID)
	if err != nil {
		return err
	}
	if chapter == nil {
		return errors.New("chapter not found")
	}

	existing, err := s.progressRepo.GetChapterProgress(userID, chapterID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	now := time.Now().UTC()
	err = s.progressRepo.SetChapterProgress(&models.ChapterProgress{
		UserID:    userID,
		ChapterID: chapterID,
		StartedAt: &now,
	})
	if err != nil {
		return fmt.Errorf("failed to unlock chapter: %w", err)
	}

	s.notify(userID)
	return nil
}

// GetProfile returns the user's profile, or nil when none exists yet
func (s *ProgressService) GetProfile(userID int64) (*models.Profile, error) {
	return s.profileRepo.GetByUserID(userID)
}

// ListLessonProgress returns every progress row for the user, each joined
// with its owning chapter
func (s *ProgressService) ListLessonProgress(userID int64) ([]models.LessonProgressWithChapter, error) {
	return s.progressRepo.ListByUser(userID)
}

// GetLesson returns lesson metadata by id, or nil when unknown
func (s *ProgressService) GetLesson(lessonID int64) (*models.Lesson, error) {
	return s.lessonRepo.GetByID(lessonID)
}

// recomputeChapterAggregate rewrites the user's chapter row from a fresh
// count of completed lessons. The aggregate is never incremented in place.
func recomputeChapterAggregate(progressRepo *repository.ProgressRepository, chapterRepo *repository.ChapterRepository, userID, chapterID int64, now time.Time) error {
	completed, err := progressRepo.CountCompletedInChapter(userID, chapterID)
	if err != nil {
		return err
	}
	total, err := chapterRepo.CountLessons(chapterID)
	if err != nil {
		return err
	}

	aggregate := &models.ChapterProgress{
		UserID:           userID,
		ChapterID:        chapterID,
		CompletedLessons: completed,
		IsCompleted:      total > 0 && completed >= total,
		StartedAt:        &now,
	}
	if aggregate.IsCompleted {
		aggregate.CompletedAt = &now
	}
	if err := progressRepo.SetChapterProgress(aggregate); err != nil {
		return fmt.Errorf("failed to update chapter progress: %w", err)
	}
	return nil
}

// applyStreak updates the daily streak from the last activity date: same day
// leaves it alone, consecutive days extend it, a gap resets it to 1.
func applyStreak(profile *models.Profile, now time.Time) {
	today := now.Truncate(24 * time.Hour)
	if profile.LastActivityDate != nil {
		last := profile.LastActivityDate.UTC().Truncate(24 * time.Hour)
		switch {
		case last.Equal(today):
			// already counted today
		case last.Equal(today.AddDate(0, 0, -1)):
			profile.StreakCount++
		default:
			profile.StreakCount = 1
		}
	} else {
		profile.StreakCount = 1
	}
	profile.LastActivityDate = &today
}

func (s *ProgressService) notify(userID int64) {
	if s.feed != nil {
		s.feed.Notify(userID)
	}
}
