package progress

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"journey/internal/database"
	"journey/internal/models"
	"journey/internal/service"
)

// completionThreshold is the fraction of a lesson's estimated time that must
// elapse before it can be completed.
const completionThreshold = 0.9

var ErrClosed = errors.New("progress store closed")

// Service is the backend a Store reads from and writes through
type Service interface {
	GetProfile(userID int64) (*models.Profile, error)
	ListLessonProgress(userID int64) ([]models.LessonProgressWithChapter, error)
	GetLesson(lessonID int64) (*models.Lesson, error)
	StartLesson(userID, lessonID int64) (*models.LessonProgress, error)
	CompleteLesson(userID, lessonID int64) (*service.CompletionResult, error)
}

// Store is a session-scoped, in-memory view of one user's progress. Each
// signed-in session owns its own Store; there is no shared singleton. The
// snapshot is rebuilt wholesale by Refresh, so repeated change-feed
// deliveries are harmless.
type Store struct {
	svc    Service
	feed   database.ChangeFeed
	userID int64

	mu          sync.Mutex
	closed      bool
	profile     *models.Profile
	lessons     map[int64]models.LessonProgressWithChapter
	chapters    map[int64]*models.ChapterProgress
	lastErr     error
	unsubscribe func()
}

// New creates a store for one user and subscribes it to the change feed.
// The caller must Close the store when the session ends.
func New(svc Service, feed database.ChangeFeed, userID int64) *Store {
	s := &Store{
		svc:      svc,
		feed:     feed,
		userID:   userID,
		lessons:  make(map[int64]models.LessonProgressWithChapter),
		chapters: make(map[int64]*models.ChapterProgress),
	}
	if feed != nil {
		s.unsubscribe = feed.Subscribe(userID, s.onChange)
	}
	return s
}

func (s *Store) onChange() {
	if err := s.Refresh(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
		log.Printf("progress store refresh after change notification failed for user %d: %v", s.userID, err)
	}
}

// Refresh rebuilds the snapshot from the backend. On read failure the
// previous snapshot is kept and the error recorded as non-fatal; callers
// keep seeing the last good state.
func (s *Store) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	profile, profileErr := s.svc.GetProfile(s.userID)
	rows, rowsErr := s.svc.ListLessonProgress(s.userID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if profileErr != nil || rowsErr != nil {
		s.lastErr = errors.Join(profileErr, rowsErr)
		log.Printf("progress refresh failed for user %d, keeping previous snapshot: %v", s.userID, s.lastErr)
		return nil
	}
	s.lastErr = nil
	s.profile = profile

	lessons := make(map[int64]models.LessonProgressWithChapter, len(rows))
	chapters := make(map[int64]*models.ChapterProgress)
	for _, row := range rows {
		lessons[row.LessonID] = row

		aggregate := chapters[row.ChapterID]
		if aggregate == nil {
			aggregate = &models.ChapterProgress{UserID: s.userID, ChapterID: row.ChapterID}
			chapters[row.ChapterID] = aggregate
		}
		if row.IsCompleted {
			aggregate.CompletedLessons++
		}
		if row.StartedAt != nil && (aggregate.StartedAt == nil || row.StartedAt.Before(*aggregate.StartedAt)) {
			started := *row.StartedAt
			aggregate.StartedAt = &started
		}
	}
	s.lessons = lessons
	s.chapters = chapters
	return nil
}

// LastError returns the error recorded by the most recent failed refresh,
// or nil after a successful one
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Profile returns the profile from the current snapshot, or nil before the
// first successful refresh
func (s *Store) Profile() *models.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// LessonStatus reports the user's state for a lesson from the snapshot.
// A lesson absent from the snapshot reads as locked.
func (s *Store) LessonStatus(lessonID int64) models.LessonStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.lessons[lessonID]
	if !ok {
		return models.StatusLocked
	}
	if row.IsCompleted {
		return models.StatusCompleted
	}
	if row.StartedAt != nil {
		return models.StatusInProgress
	}
	return models.StatusLocked
}

// ChapterProgress returns the in-memory aggregate for a chapter, or nil
// when the user has no progress in it
func (s *Store) ChapterProgress(chapterID int64) *models.ChapterProgress {
	s.mu.Lock()
	defer s.mu.Unlock()

	aggregate, ok := s.chapters[chapterID]
	if !ok {
		return nil
	}
	copied := *aggregate
	return &copied
}

// StartLesson starts the lesson through the backend and folds the resulting
// row into the snapshot
func (s *Store) StartLesson(ctx context.Context, lessonID int64) (*models.LessonProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, ErrClosed
	}

	row, err := s.svc.StartLesson(s.userID, lessonID)
	if err != nil {
		return nil, err
	}

	if row != nil {
		s.mu.Lock()
		if !s.closed {
			existing := s.lessons[lessonID]
			existing.LessonProgress = *row
			s.lessons[lessonID] = existing
		}
		s.mu.Unlock()
	}
	return row, nil
}

// CompleteLesson completes the lesson through the backend, refreshes the
// snapshot and returns the completion result. A repeat completion reports
// AlreadyCompleted with zero XP.
func (s *Store) CompleteLesson(ctx context.Context, lessonID int64) (*service.CompletionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, ErrClosed
	}

	result, err := s.svc.CompleteLesson(s.userID, lessonID)
	if err != nil {
		log.Printf("lesson completion failed for user %d lesson %d: %v", s.userID, lessonID, err)
		return nil, err
	}

	if err := s.Refresh(ctx); err != nil && !errors.Is(err, ErrClosed) {
		return result, err
	}
	return result, nil
}

// CanComplete reports whether enough of the lesson's estimated time has
// elapsed since it was started. Lessons without an estimate can always be
// completed once started.
func (s *Store) CanComplete(lessonID int64, now time.Time) (bool, error) {
	s.mu.Lock()
	row, ok := s.lessons[lessonID]
	s.mu.Unlock()

	if !ok || row.StartedAt == nil {
		return false, nil
	}
	if row.IsCompleted {
		return true, nil
	}

	lesson, err := s.svc.GetLesson(lessonID)
	if err != nil {
		return false, err
	}
	if lesson == nil {
		return false, nil
	}
	if lesson.EstimatedTime <= 0 {
		return true, nil
	}

	required := time.Duration(completionThreshold * float64(lesson.EstimatedTime) * float64(time.Minute))
	return now.Sub(*row.StartedAt) >= required, nil
}

// Close unsubscribes from the change feed and freezes the store. Refreshes
// arriving after Close are ignored.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
