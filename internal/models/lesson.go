package models

import "time"

// Lesson is a content unit within a chapter
type Lesson struct {
	ID            int64
	Slug          string
	ChapterID     int64
	Title         string
	Description   string
	EstimatedTime int // minutes
	OrderSequence int
	XPReward      int
	ContentPath   string
	Status        string // published, draft, archived
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsPublished reports whether the lesson is visible to learners
func (l *Lesson) IsPublished() bool {
	return l.Status == ContentPublished
}

// LessonContent holds the markdown body of a lesson, stored and loaded
// separately from the lesson metadata
type LessonContent struct {
	LessonID  int64
	Content   string
	Version   int
	UpdatedAt time.Time
}

// LessonView is a lesson annotated with per-user state for display.
// PositionLocked applies the sequential rule: a lesson is locked while the
// previous lesson in the chapter is not completed, regardless of its own
// derived status.
type LessonView struct {
	Lesson
	Content        string
	Progress       *LessonProgress
	DisplayStatus  LessonStatus
	PositionLocked bool
}
