package repository

import (
	"database/sql"
	"fmt"
	"time"

	"journey/internal/database"
	"journey/internal/models"
)

// ProgressRepository handles lesson and chapter progress rows. It runs
// against either the plain connection or a transaction: WithTx returns a
// copy bound to the given transaction so the completion write stays atomic.
type ProgressRepository struct {
	q database.DBTX
}

// NewProgressRepository creates a new progress repository
func NewProgressRepository(db *database.DB) *ProgressRepository {
	return &ProgressRepository{q: db}
}

// WithTx returns a repository bound to tx
func (r *ProgressRepository) WithTx(tx *database.Tx) *ProgressRepository {
	return &ProgressRepository{q: tx}
}

const progressColumns = `user_id, lesson_id, started_at, completed_at, is_completed, created_at, updated_at`

func scanProgress(scan func(dest ...interface{}) error) (*models.LessonProgress, error) {
	progress := &models.LessonProgress{}
	var startedAt, completedAt sql.NullTime

	err := scan(
		&progress.UserID,
		&progress.LessonID,
		&startedAt,
		&completedAt,
		&progress.IsCompleted,
		&progress.CreatedAt,
		&progress.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		progress.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		progress.CompletedAt = &completedAt.Time
	}
	return progress, nil
}

// Get retrieves the progress row for (userID, lessonID); (nil, nil) when absent
func (r *ProgressRepository) Get(userID, lessonID int64) (*models.LessonProgress, error) {
	query := "SELECT " + progressColumns + " FROM user_lesson_progress WHERE user_id = ? AND lesson_id = ?"

	progress, err := scanProgress(r.q.QueryRow(query, userID, lessonID).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lesson progress: %w", err)
	}
	return progress, nil
}

// ListByUser retrieves every progress row for a user, joined with the
// owning chapter so chapter aggregates can be recomputed in one pass.
func (r *ProgressRepository) ListByUser(userID int64) ([]models.LessonProgressWithChapter, error) {
	query := `
		SELECT p.user_id, p.lesson_id, p.started_at, p.completed_at, p.is_completed,
		       p.created_at, p.updated_at, l.chapter_id
		FROM user_lesson_progress p
		JOIN lessons l ON l.id = p.lesson_id
		WHERE p.user_id = ?
	`

	rows, err := r.q.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lesson progress: %w", err)
	}
	defer rows.Close()

	var records []models.LessonProgressWithChapter
	for rows.Next() {
		var record models.LessonProgressWithChapter
		var startedAt, completedAt sql.NullTime

		err := rows.Scan(
			&record.UserID,
			&record.LessonID,
			&startedAt,
			&completedAt,
			&record.IsCompleted,
			&record.CreatedAt,
			&record.UpdatedAt,
			&record.ChapterID,
		)
		if err != nil {
			return nil, err
		}

		if startedAt.Valid {
			record.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			record.CompletedAt = &completedAt.Time
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// ListByUserAndLessons retrieves the user's progress rows for a set of lessons
func (r *ProgressRepository) ListByUserAndLessons(userID int64, lessonIDs []int64) (map[int64]*models.LessonProgress, error) {
	result := make(map[int64]*models.LessonProgress, len(lessonIDs))
	if len(lessonIDs) == 0 {
		return result, nil
	}

	query := "SELECT " + progressColumns + " FROM user_lesson_progress WHERE user_id = ? AND lesson_id IN ("
	args := []interface{}{userID}
	for i, id := range lessonIDs {
		if i > 0 {
			query += ", "
		}
		query += "?"
		args = append(args, id)
	}
	query += ")"

	rows, err := r.q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list lesson progress: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		progress, err := scanProgress(rows.Scan)
		if err != nil {
			return nil, err
		}
		result[progress.LessonID] = progress
	}

	return result, rows.Err()
}

// Insert creates a fresh progress row with a start timestamp. Callers must
// treat a unique violation as a benign lost race, not an error condition.
func (r *ProgressRepository) Insert(userID, lessonID int64, startedAt time.Time) error {
	query := `
		INSERT INTO user_lesson_progress (user_id, lesson_id, started_at, is_completed)
		VALUES (?, ?, ?, ?)
	`
	_, err := r.q.Exec(query, userID, lessonID, startedAt, false)
	return err
}

// IsUniqueViolation reports whether err is a duplicate-key failure under the
// active dialect
func (r *ProgressRepository) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return r.q.GetDialect().IsUniqueViolation(err)
}

// UpdateStartedAt resets the start timestamp on an uncompleted row.
// Restarting a lesson resets the elapsed-time baseline, not completion.
func (r *ProgressRepository) UpdateStartedAt(userID, lessonID int64, startedAt time.Time) error {
	query := `
		UPDATE user_lesson_progress
		SET started_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND lesson_id = ? AND is_completed = ?
	`
	_, err := r.q.Exec(query, startedAt, userID, lessonID, false)
	return err
}

// MarkCompleted upserts the progress row into the completed state. A missing
// row gets its started_at set too, so completion always implies a start.
// is_completed never transitions back to false through this path.
func (r *ProgressRepository) MarkCompleted(userID, lessonID int64, completedAt time.Time) error {
	existing, err := r.Get(userID, lessonID)
	if err != nil {
		return err
	}

	if existing == nil {
		query := `
			INSERT INTO user_lesson_progress (user_id, lesson_id, started_at, completed_at, is_completed)
			VALUES (?, ?, ?, ?, ?)
		`
		_, err := r.q.Exec(query, userID, lessonID, completedAt, completedAt, true)
		if err != nil && r.IsUniqueViolation(err) {
			// Lost a race with a concurrent write; fall through to the update
			return r.markCompletedUpdate(userID, lessonID, completedAt)
		}
		return err
	}

	return r.markCompletedUpdate(userID, lessonID, completedAt)
}

func (r *ProgressRepository) markCompletedUpdate(userID, lessonID int64, completedAt time.Time) error {
	query := `
		UPDATE user_lesson_progress
		SET is_completed = ?, completed_at = ?,
		    started_at = COALESCE(started_at, ?),
		    updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND lesson_id = ?
	`
	_, err := r.q.Exec(query, true, completedAt, completedAt, userID, lessonID)
	return err
}

// CountCompletedInChapter counts the user's completed lessons in a chapter
func (r *ProgressRepository) CountCompletedInChapter(userID, chapterID int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM user_lesson_progress p
		JOIN lessons l ON l.id = p.lesson_id
		WHERE p.user_id = ? AND l.chapter_id = ? AND p.is_completed = ?
	`
	var count int
	err := r.q.QueryRow(query, userID, chapterID, true).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count completed lessons: %w", err)
	}
	return count, nil
}

// GetChapterProgress retrieves the stored chapter aggregate; (nil, nil) when absent
func (r *ProgressRepository) GetChapterProgress(userID, chapterID int64) (*models.ChapterProgress, error) {
	query := `
		SELECT user_id, chapter_id, completed_lessons, is_completed, started_at, completed_at
		FROM user_chapter_progress
		WHERE user_id = ? AND chapter_id = ?
	`
	progress := &models.ChapterProgress{}
	var startedAt, completedAt sql.NullTime

	err := r.q.QueryRow(query, userID, chapterID).Scan(
		&progress.UserID,
		&progress.ChapterID,
		&progress.CompletedLessons,
		&progress.IsCompleted,
		&startedAt,
		&completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chapter progress: %w", err)
	}

	if startedAt.Valid {
		progress.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		progress.CompletedAt = &completedAt.Time
	}
	return progress, nil
}

// SetChapterProgress writes the recomputed chapter aggregate. The stored row
// is a cache of the recomputation, never an accumulator.
func (r *ProgressRepository) SetChapterProgress(progress *models.ChapterProgress) error {
	existing, err := r.GetChapterProgress(progress.UserID, progress.ChapterID)
	if err != nil {
		return err
	}

	if existing == nil {
		query := `
			INSERT INTO user_chapter_progress (user_id, chapter_id, completed_lessons, is_completed, started_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`
		_, err := r.q.Exec(query,
			progress.UserID, progress.ChapterID, progress.CompletedLessons,
			progress.IsCompleted, nullableTime(progress.StartedAt), nullableTime(progress.CompletedAt))
		return err
	}

	query := `
		UPDATE user_chapter_progress
		SET completed_lessons = ?, is_completed = ?,
		    started_at = COALESCE(started_at, ?), completed_at = ?
		WHERE user_id = ? AND chapter_id = ?
	`
	_, err = r.q.Exec(query,
		progress.CompletedLessons, progress.IsCompleted,
		nullableTime(progress.StartedAt), nullableTime(progress.CompletedAt),
		progress.UserID, progress.ChapterID)
	return err
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
