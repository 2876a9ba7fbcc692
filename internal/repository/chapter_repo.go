package repository

import (
	"database/sql"
	"fmt"

	"journey/internal/database"
	"journey/internal/models"
)

// ChapterRepository handles chapter database operations
type ChapterRepository struct {
	q database.DBTX
}

// NewChapterRepository creates a new chapter repository
func NewChapterRepository(db *database.DB) *ChapterRepository {
	return &ChapterRepository{q: db}
}

// WithTx returns a repository bound to tx
func (r *ChapterRepository) WithTx(tx *database.Tx) *ChapterRepository {
	return &ChapterRepository{q: tx}
}

const chapterColumns = `id, slug, title, description, order_sequence, category, xp_reward, COALESCE(content_path, ''), status, created_at, updated_at`

func scanChapter(row *sql.Row) (*models.Chapter, error) {
	chapter := &models.Chapter{}
	err := row.Scan(
		&chapter.ID,
		&chapter.Slug,
		&chapter.Title,
		&chapter.Description,
		&chapter.OrderSequence,
		&chapter.Category,
		&chapter.XPReward,
		&chapter.ContentPath,
		&chapter.Status,
		&chapter.CreatedAt,
		&chapter.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chapter: %w", err)
	}
	return chapter, nil
}

// GetAll retrieves every chapter ordered by order_sequence
func (r *ChapterRepository) GetAll() ([]models.Chapter, error) {
	query := "SELECT " + chapterColumns + " FROM chapters ORDER BY order_sequence ASC"

	rows, err := r.q.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list chapters: %w", err)
	}
	defer rows.Close()

	var chapters []models.Chapter
	for rows.Next() {
		var chapter models.Chapter
		err := rows.Scan(
			&chapter.ID,
			&chapter.Slug,
			&chapter.Title,
			&chapter.Description,
			&chapter.OrderSequence,
			&chapter.Category,
			&chapter.XPReward,
			&chapter.ContentPath,
			&chapter.Status,
			&chapter.CreatedAt,
			&chapter.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		chapters = append(chapters, chapter)
	}

	return chapters, rows.Err()
}

// GetBySlug retrieves a chapter by its slug; returns (nil, nil) when absent
func (r *ChapterRepository) GetBySlug(slug string) (*models.Chapter, error) {
	query := "SELECT " + chapterColumns + " FROM chapters WHERE slug = ?"
	return scanChapter(r.q.QueryRow(query, slug))
}

// GetByID retrieves a chapter by ID; returns (nil, nil) when absent
func (r *ChapterRepository) GetByID(id int64) (*models.Chapter, error) {
	query := "SELECT " + chapterColumns + " FROM chapters WHERE id = ?"
	return scanChapter(r.q.QueryRow(query, id))
}

// CountLessons returns the number of lessons belonging to a chapter
func (r *ChapterRepository) CountLessons(chapterID int64) (int, error) {
	var count int
	err := r.q.QueryRow("SELECT COUNT(*) FROM lessons WHERE chapter_id = ?", chapterID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count lessons: %w", err)
	}
	return count, nil
}

// Upsert inserts a chapter or, when the slug already exists, updates it in
// place. Used by the content sync; idempotent across repeated runs.
func (r *ChapterRepository) Upsert(chapter *models.Chapter) (int64, error) {
	existing, err := r.GetBySlug(chapter.Slug)
	if err != nil {
		return 0, err
	}

	if existing == nil {
		query := `
			INSERT INTO chapters (slug, title, description, order_sequence, category, xp_reward, content_path, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`
		id, err := r.q.ExecReturningID(query,
			chapter.Slug, chapter.Title, chapter.Description, chapter.OrderSequence,
			chapter.Category, chapter.XPReward, chapter.ContentPath, chapter.Status)
		if err != nil {
			return 0, fmt.Errorf("failed to insert chapter %s: %w", chapter.Slug, err)
		}
		return id, nil
	}

	query := `
		UPDATE chapters
		SET title = ?, description = ?, order_sequence = ?, category = ?,
		    xp_reward = ?, content_path = ?, status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	_, err = r.q.Exec(query,
		chapter.Title, chapter.Description, chapter.OrderSequence, chapter.Category,
		chapter.XPReward, chapter.ContentPath, chapter.Status, existing.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to update chapter %s: %w", chapter.Slug, err)
	}
	return existing.ID, nil
}
