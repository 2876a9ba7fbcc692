package repository

import (
	"database/sql"
	"fmt"
	"strings"

	"journey/internal/database"
	"journey/internal/models"
)

// LessonRepository handles lesson and lesson-content database operations
type LessonRepository struct {
	q database.DBTX
}

// NewLessonRepository creates a new lesson repository
func NewLessonRepository(db *database.DB) *LessonRepository {
	return &LessonRepository{q: db}
}

// WithTx returns a repository bound to tx
func (r *LessonRepository) WithTx(tx *database.Tx) *LessonRepository {
	return &LessonRepository{q: tx}
}

const lessonColumns = `id, slug, chapter_id, title, description, estimated_time, order_sequence, xp_reward, COALESCE(content_path, ''), status, created_at, updated_at`

func scanLessonRow(row *sql.Row) (*models.Lesson, error) {
	lesson := &models.Lesson{}
	err := row.Scan(
		&lesson.ID,
		&lesson.Slug,
		&lesson.ChapterID,
		&lesson.Title,
		&lesson.Description,
		&lesson.EstimatedTime,
		&lesson.OrderSequence,
		&lesson.XPReward,
		&lesson.ContentPath,
		&lesson.Status,
		&lesson.CreatedAt,
		&lesson.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lesson: %w", err)
	}
	return lesson, nil
}

func scanLessons(rows *sql.Rows) ([]models.Lesson, error) {
	var lessons []models.Lesson
	for rows.Next() {
		var lesson models.Lesson
		err := rows.Scan(
			&lesson.ID,
			&lesson.Slug,
			&lesson.ChapterID,
			&lesson.Title,
			&lesson.Description,
			&lesson.EstimatedTime,
			&lesson.OrderSequence,
			&lesson.XPReward,
			&lesson.ContentPath,
			&lesson.Status,
			&lesson.CreatedAt,
			&lesson.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		lessons = append(lessons, lesson)
	}
	return lessons, rows.Err()
}

// GetByChapter retrieves all lessons in a chapter ordered by order_sequence.
// This ordering is the basis for the sequential unlock rule.
func (r *LessonRepository) GetByChapter(chapterID int64) ([]models.Lesson, error) {
	query := "SELECT " + lessonColumns + " FROM lessons WHERE chapter_id = ? ORDER BY order_sequence ASC"

	rows, err := r.q.Query(query, chapterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lessons: %w", err)
	}
	defer rows.Close()

	return scanLessons(rows)
}

// GetBySlug retrieves a lesson by chapter and slug; lessons are scoped by
// chapter identity, so the chapter must be resolved first.
func (r *LessonRepository) GetBySlug(chapterID int64, slug string) (*models.Lesson, error) {
	query := "SELECT " + lessonColumns + " FROM lessons WHERE chapter_id = ? AND slug = ?"
	return scanLessonRow(r.q.QueryRow(query, chapterID, slug))
}

// GetByID retrieves a lesson by ID; returns (nil, nil) when absent
func (r *LessonRepository) GetByID(id int64) (*models.Lesson, error) {
	query := "SELECT " + lessonColumns + " FROM lessons WHERE id = ?"
	return scanLessonRow(r.q.QueryRow(query, id))
}

// GetNextLesson returns the lesson following orderSequence within a chapter,
// or (nil, nil) when the given lesson is the last one.
func (r *LessonRepository) GetNextLesson(chapterID int64, orderSequence int) (*models.Lesson, error) {
	query := "SELECT " + lessonColumns + ` FROM lessons
		WHERE chapter_id = ? AND order_sequence > ?
		ORDER BY order_sequence ASC
		LIMIT 1`
	return scanLessonRow(r.q.QueryRow(query, chapterID, orderSequence))
}

// GetPreviousLesson returns the lesson preceding orderSequence within a
// chapter, or (nil, nil) when the given lesson is the first one.
func (r *LessonRepository) GetPreviousLesson(chapterID int64, orderSequence int) (*models.Lesson, error) {
	query := "SELECT " + lessonColumns + ` FROM lessons
		WHERE chapter_id = ? AND order_sequence < ?
		ORDER BY order_sequence DESC
		LIMIT 1`
	return scanLessonRow(r.q.QueryRow(query, chapterID, orderSequence))
}

// GetContent retrieves the markdown body for a lesson; (nil, nil) when absent
func (r *LessonRepository) GetContent(lessonID int64) (*models.LessonContent, error) {
	query := `
		SELECT lesson_id, content, version, updated_at
		FROM lesson_contents
		WHERE lesson_id = ?
	`
	content := &models.LessonContent{}
	err := r.q.QueryRow(query, lessonID).Scan(
		&content.LessonID,
		&content.Content,
		&content.Version,
		&content.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lesson content: %w", err)
	}
	return content, nil
}

// UpsertContent inserts or replaces a lesson's markdown body
func (r *LessonRepository) UpsertContent(lessonID int64, content string, version int) error {
	_, err := r.q.Exec(r.q.GetDialect().UpsertLessonContentQuery(), lessonID, content, version)
	if err != nil {
		return fmt.Errorf("failed to upsert lesson content: %w", err)
	}
	return nil
}

// Upsert inserts a lesson or updates it in place when (chapter_id, slug)
// already exists. Used by the content sync.
func (r *LessonRepository) Upsert(lesson *models.Lesson) (int64, error) {
	existing, err := r.GetBySlug(lesson.ChapterID, lesson.Slug)
	if err != nil {
		return 0, err
	}

	if existing == nil {
		query := `
			INSERT INTO lessons (slug, chapter_id, title, description, estimated_time, order_sequence, xp_reward, content_path, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		id, err := r.q.ExecReturningID(query,
			lesson.Slug, lesson.ChapterID, lesson.Title, lesson.Description,
			lesson.EstimatedTime, lesson.OrderSequence, lesson.XPReward,
			lesson.ContentPath, lesson.Status)
		if err != nil {
			return 0, fmt.Errorf("failed to insert lesson %s: %w", lesson.Slug, err)
		}
		return id, nil
	}

	query := `
		UPDATE lessons
		SET title = ?, description = ?, estimated_time = ?, order_sequence = ?,
		    xp_reward = ?, content_path = ?, status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	_, err = r.q.Exec(query,
		lesson.Title, lesson.Description, lesson.EstimatedTime, lesson.OrderSequence,
		lesson.XPReward, lesson.ContentPath, lesson.Status, existing.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to update lesson %s: %w", lesson.Slug, err)
	}
	return existing.ID, nil
}

// Search finds published lessons whose title, description or content match
// the query, case-insensitively. Results are ordered by chapter and lesson
// sequence so they read in course order.
func (r *LessonRepository) Search(query string, limit int) ([]models.Lesson, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"

	sqlQuery := `SELECT l.id, l.slug, l.chapter_id, l.title, l.description, l.estimated_time,
		l.order_sequence, l.xp_reward, COALESCE(l.content_path, ''), l.status, l.created_at, l.updated_at
		FROM lessons l
		JOIN chapters c ON c.id = l.chapter_id
		LEFT JOIN lesson_contents lc ON lc.lesson_id = l.id
		WHERE l.status = 'published' AND c.status = 'published'
		  AND (LOWER(l.title) LIKE ? OR LOWER(l.description) LIKE ? OR LOWER(COALESCE(lc.content, '')) LIKE ?)
		ORDER BY c.order_sequence ASC, l.order_sequence ASC
		LIMIT ?`

	rows, err := r.q.Query(sqlQuery, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search lessons: %w", err)
	}
	defer rows.Close()

	return scanLessons(rows)
}
