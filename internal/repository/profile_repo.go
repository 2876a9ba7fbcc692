package repository

import (
	"database/sql"
	"fmt"
	"time"

	"journey/internal/database"
	"journey/internal/models"
)

// ProfileRepository handles the per-user gamification profile
type ProfileRepository struct {
	q database.DBTX
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *database.DB) *ProfileRepository {
	return &ProfileRepository{q: db}
}

// WithTx returns a repository bound to tx
func (r *ProfileRepository) WithTx(tx *database.Tx) *ProfileRepository {
	return &ProfileRepository{q: tx}
}

// Create inserts a fresh profile for a new user
func (r *ProfileRepository) Create(userID int64) (*models.Profile, error) {
	query := `
		INSERT INTO profiles (id, current_level, total_xp, streak_count)
		VALUES (?, ?, ?, ?)
	`
	if _, err := r.q.Exec(query, userID, 1, 0, 0); err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	return &models.Profile{
		UserID:       userID,
		CurrentLevel: 1,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}, nil
}

// GetByUserID retrieves a user's profile; (nil, nil) when absent
func (r *ProfileRepository) GetByUserID(userID int64) (*models.Profile, error) {
	query := `
		SELECT id, current_level, total_xp, streak_count, last_activity_date, created_at, updated_at
		FROM profiles
		WHERE id = ?
	`
	profile := &models.Profile{}
	var lastActivity sql.NullTime

	err := r.q.QueryRow(query, userID).Scan(
		&profile.UserID,
		&profile.CurrentLevel,
		&profile.TotalXP,
		&profile.StreakCount,
		&lastActivity,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	if lastActivity.Valid {
		profile.LastActivityDate = &lastActivity.Time
	}
	return profile, nil
}

// Update writes the profile's gamification fields
func (r *ProfileRepository) Update(profile *models.Profile) error {
	query := `
		UPDATE profiles
		SET current_level = ?, total_xp = ?, streak_count = ?,
		    last_activity_date = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	_, err := r.q.Exec(query,
		profile.CurrentLevel, profile.TotalXP, profile.StreakCount,
		nullableTime(profile.LastActivityDate), profile.UserID)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// ResetLapsedStreaks zeroes every streak whose last activity is older than
// cutoff. Run daily by the scheduler; completion-time updates handle the
// common case, this sweep catches users who simply stopped showing up.
func (r *ProfileRepository) ResetLapsedStreaks(cutoff time.Time) (int64, error) {
	query := `
		UPDATE profiles
		SET streak_count = 0, updated_at = CURRENT_TIMESTAMP
		WHERE streak_count > 0 AND (last_activity_date IS NULL OR last_activity_date < ?)
	`
	result, err := r.q.Exec(query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reset lapsed streaks: %w", err)
	}
	return result.RowsAffected()
}
