package models

// LessonStatus is the derived display status for a lesson or chapter.
// It is computed from the storage status plus the user's progress record
// and is never written back to storage.
type LessonStatus string

const (
	StatusLocked     LessonStatus = "locked"
	StatusAvailable  LessonStatus = "available"
	StatusInProgress LessonStatus = "in_progress"
	StatusCompleted  LessonStatus = "completed"
)

// DeriveLessonStatus maps a lesson's storage status and the user's progress
// record (nil when no row exists) to a display status. Precedence:
// completed, then in_progress, then available for published lessons,
// locked otherwise. A published lesson with no progress row is available;
// locked is the fail-safe for anything unpublished or unresolved.
func DeriveLessonStatus(storageStatus string, progress *LessonProgress) LessonStatus {
	if progress != nil {
		if progress.IsCompleted {
			return StatusCompleted
		}
		if progress.StartedAt != nil {
			return StatusInProgress
		}
	}
	if storageStatus == ContentPublished {
		return StatusAvailable
	}
	return StatusLocked
}

// DeriveChapterStatus maps a chapter's storage status to its display status.
// Chapter access is author-controlled: published chapters are available,
// draft and archived chapters are locked.
func DeriveChapterStatus(storageStatus string) LessonStatus {
	if storageStatus == ContentPublished {
		return StatusAvailable
	}
	return StatusLocked
}
