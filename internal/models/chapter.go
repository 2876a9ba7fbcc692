package models

import "time"

// Storage status values for chapters and lessons. Authors control these;
// display statuses are derived, never stored.
const (
	ContentPublished = "published"
	ContentDraft     = "draft"
	ContentArchived  = "archived"
)

// Chapter is a top-level content grouping, ordered and gatable
type Chapter struct {
	ID            int64
	Slug          string
	Title         string
	Description   string
	OrderSequence int
	Category      string
	XPReward      int
	ContentPath   string
	Status        string // published, draft, archived
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsPublished reports whether the chapter is visible to learners
func (c *Chapter) IsPublished() bool {
	return c.Status == ContentPublished
}

// ChapterView is a chapter annotated with per-user progress for display
type ChapterView struct {
	Chapter
	TotalLessons     int
	CompletedLessons int
	DisplayStatus    LessonStatus // available or locked
}
