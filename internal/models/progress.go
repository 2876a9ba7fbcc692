package models

import "time"

// LessonProgress is the per-user, per-lesson record of start and completion.
// The (UserID, LessonID) pair is unique in storage.
type LessonProgress struct {
	UserID      int64
	LessonID    int64
	StartedAt   *time.Time
	CompletedAt *time.Time
	IsCompleted bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChapterProgress is the per-user aggregate for a chapter. It is always
// recomputed from completed lesson progress, never incremented in place.
type ChapterProgress struct {
	UserID           int64
	ChapterID        int64
	CompletedLessons int
	IsCompleted      bool
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// LessonProgressWithChapter joins a progress row with the owning chapter,
// so chapter aggregates can be recomputed from one read.
type LessonProgressWithChapter struct {
	LessonProgress
	ChapterID int64
}

// Profile holds a user's gamification state
type Profile struct {
	UserID           int64
	CurrentLevel     int
	TotalXP          int
	StreakCount      int
	LastActivityDate *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// LevelForXP computes the level reached at totalXP with a flat xpPerLevel curve
func LevelForXP(totalXP, xpPerLevel int) int {
	if xpPerLevel <= 0 {
		return 1
	}
	return totalXP/xpPerLevel + 1
}
