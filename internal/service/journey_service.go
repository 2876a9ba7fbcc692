package service

import (
	"fmt"

	"journey/internal/models"
	"journey/internal/repository"
)

// JourneyService answers read-side questions about chapters, lessons and a
// user's place in them. All write paths live in ProgressService.
type JourneyService struct {
	chapterRepo  *repository.ChapterRepository
	lessonRepo   *repository.LessonRepository
	progressRepo *repository.ProgressRepository
	profileRepo  *repository.ProfileRepository
}

// NewJourneyService creates a new journey query service
func NewJourneyService(chapterRepo *repository.ChapterRepository, lessonRepo *repository.LessonRepository, progressRepo *repository.ProgressRepository, profileRepo *repository.ProfileRepository) *JourneyService {
	return &JourneyService{
		chapterRepo:  chapterRepo,
		lessonRepo:   lessonRepo,
		progressRepo: progressRepo,
		profileRepo:  profileRepo,
	}
}

// ChapterDetail is a chapter with its lessons annotated for one user
type ChapterDetail struct {
	models.ChapterView
	Lessons []models.LessonView
}

// LessonPage is everything the lesson page needs: the lesson with its content
// and progress, the owning chapter, and slugs for sequential navigation.
type LessonPage struct {
	Chapter        *models.Chapter
	View           models.LessonView
	NextLessonSlug string
	PrevLessonSlug string
	Available      bool
}

// SearchResult is a matched lesson with enough chapter context to link to it
type SearchResult struct {
	Lesson       models.Lesson
	ChapterSlug  string
	ChapterTitle string
	Status       models.LessonStatus
}

// GetProfile returns the user's gamification profile, or nil when the user
// has no profile row yet
func (s *JourneyService) GetProfile(userID int64) (*models.Profile, error) {
	return s.profileRepo.GetByUserID(userID)
}

// GetChapters returns all chapters in course order, each annotated with the
// user's completed-lesson count and a display status
func (s *JourneyService) GetChapters(userID int64) ([]models.ChapterView, error) {
	chapters, err := s.chapterRepo.GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to load chapters: %w", err)
	}

	views := make([]models.ChapterView, 0, len(chapters))
	for _, chapter := range chapters {
		total, err := s.chapterRepo.CountLessons(chapter.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count lessons for chapter %s: %w", chapter.Slug, err)
		}
		completed, err := s.progressRepo.CountCompletedInChapter(userID, chapter.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count completed lessons for chapter %s: %w", chapter.Slug, err)
		}
		views = append(views, models.ChapterView{
			Chapter:          chapter,
			TotalLessons:     total,
			CompletedLessons: completed,
			DisplayStatus:    models.DeriveChapterStatus(chapter.Status),
		})
	}
	return views, nil
}

// GetChapter returns one chapter with its lessons annotated with the user's
// progress and the sequential lock rule. Returns (nil, nil) when the slug
// does not resolve.
func (s *JourneyService) GetChapter(userID int64, chapterSlug string) (*ChapterDetail, error) {
	chapter, err := s.chapterRepo.GetBySlug(chapterSlug)
	if err != nil {
		return nil, fmt.Errorf("failed to load chapter %s: %w", chapterSlug, err)
	}
	if chapter == nil {
		return nil, nil
	}

	lessons, err := s.lessonRepo.GetByChapter(chapter.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load lessons for chapter %s: %w", chapterSlug, err)
	}

	lessonIDs := make([]int64, len(lessons))
	for i, lesson := range lessons {
		lessonIDs[i] = lesson.ID
	}
	progressByLesson, err := s.progressRepo.ListByUserAndLessons(userID, lessonIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load progress for chapter %s: %w", chapterSlug, err)
	}

	views := make([]models.LessonView, len(lessons))
	completedCount := 0
	for i, lesson := range lessons {
		progress := progressByLesson[lesson.ID]
		status := models.DeriveLessonStatus(lesson.Status, progress)
		if status == models.StatusCompleted {
			completedCount++
		}
		// A lesson after the first is position-locked until the previous
		// lesson in the chapter is completed.
		positionLocked := false
		if i > 0 {
			prev := progressByLesson[lessons[i-1].ID]
			positionLocked = models.DeriveLessonStatus(lessons[i-1].Status, prev) != models.StatusCompleted
		}
		views[i] = models.LessonView{
			Lesson:         lesson,
			Progress:       progress,
			DisplayStatus:  status,
			PositionLocked: positionLocked,
		}
	}

	return &ChapterDetail{
		ChapterView: models.ChapterView{
			Chapter:          *chapter,
			TotalLessons:     len(lessons),
			CompletedLessons: completedCount,
			DisplayStatus:    models.DeriveChapterStatus(chapter.Status),
		},
		Lessons: views,
	}, nil
}

// GetLesson resolves chapter slug, lesson slug, content and progress in
// sequence. Any broken link in the chain yields (nil, nil) so callers can
// render a 404 without further reads.
func (s *JourneyService) GetLesson(userID int64, chapterSlug, lessonSlug string) (*LessonPage, error) {
	chapter, err := s.chapterRepo.GetBySlug(chapterSlug)
	if err != nil {
		return nil, fmt.Errorf("failed to load chapter %s: %w", chapterSlug, err)
	}
	if chapter == nil {
		return nil, nil
	}

	lesson, err := s.lessonRepo.GetBySlug(chapter.ID, lessonSlug)
	if err != nil {
		return nil, fmt.Errorf("failed to load lesson %s: %w", lessonSlug, err)
	}
	if lesson == nil {
		return nil, nil
	}

	content, err := s.lessonRepo.GetContent(lesson.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load content for lesson %s: %w", lessonSlug, err)
	}

	progress, err := s.progressRepo.Get(userID, lesson.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load progress for lesson %s: %w", lessonSlug, err)
	}

	page := &LessonPage{
		Chapter: chapter,
		View: models.LessonView{
			Lesson:        *lesson,
			Progress:      progress,
			DisplayStatus: models.DeriveLessonStatus(lesson.Status, progress),
		},
	}
	if content != nil {
		page.View.Content = content.Content
	}

	available, err := s.CheckLessonAvailability(userID, lesson.ID)
	if err != nil {
		return nil, err
	}
	page.Available = available
	page.View.PositionLocked = !available && page.View.DisplayStatus != models.StatusCompleted

	next, err := s.lessonRepo.GetNextLesson(chapter.ID, lesson.OrderSequence)
	if err != nil {
		return nil, fmt.Errorf("failed to load next lesson: %w", err)
	}
	if next != nil {
		page.NextLessonSlug = next.Slug
	}
	prev, err := s.lessonRepo.GetPreviousLesson(chapter.ID, lesson.OrderSequence)
	if err != nil {
		return nil, fmt.Errorf("failed to load previous lesson: %w", err)
	}
	if prev != nil {
		page.PrevLessonSlug = prev.Slug
	}

	return page, nil
}

// CheckLessonAvailability reports whether the lesson can be started: it must
// be published and its predecessor in the chapter, if any, completed.
func (s *JourneyService) CheckLessonAvailability(userID, lessonID int64) (bool, error) {
	lesson, err := s.lessonRepo.GetByID(lessonID)
	if err != nil {
		return false, fmt.Errorf("failed to load lesson %d: %w", lessonID, err)
	}
	if lesson == nil || !lesson.IsPublished() {
		return false, nil
	}

	prev, err := s.lessonRepo.GetPreviousLesson(lesson.ChapterID, lesson.OrderSequence)
	if err != nil {
		return false, fmt.Errorf("failed to load previous lesson: %w", err)
	}
	if prev == nil {
		return true, nil
	}

	prevProgress, err := s.progressRepo.Get(userID, prev.ID)
	if err != nil {
		return false, fmt.Errorf("failed to load previous lesson progress: %w", err)
	}
	return prevProgress != nil && prevProgress.IsCompleted, nil
}

// SearchLessons finds published lessons matching the query and, when userID
// is non-zero, annotates each hit with that user's progress status
func (s *JourneyService) SearchLessons(query string, userID int64, limit int) ([]SearchResult, error) {
	lessons, err := s.lessonRepo.Search(query, limit)
	if err != nil {
		return nil, err
	}
	if len(lessons) == 0 {
		return nil, nil
	}

	chapters, err := s.chapterRepo.GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to load chapters: %w", err)
	}
	chapterByID := make(map[int64]models.Chapter, len(chapters))
	for _, chapter := range chapters {
		chapterByID[chapter.ID] = chapter
	}

	var progressByLesson map[int64]*models.LessonProgress
	if userID != 0 {
		lessonIDs := make([]int64, len(lessons))
		for i, lesson := range lessons {
			lessonIDs[i] = lesson.ID
		}
		progressByLesson, err = s.progressRepo.ListByUserAndLessons(userID, lessonIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to load search progress: %w", err)
		}
	}

	results := make([]SearchResult, 0, len(lessons))
	for _, lesson := range lessons {
		chapter := chapterByID[lesson.ChapterID]
		results = append(results, SearchResult{
			Lesson:       lesson,
			ChapterSlug:  chapter.Slug,
			ChapterTitle: chapter.Title,
			Status:       models.DeriveLessonStatus(lesson.Status, progressByLesson[lesson.ID]),
		})
	}
	return results, nil
}
