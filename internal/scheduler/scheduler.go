package scheduler

import (
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"journey/internal/repository"
	"journey/internal/service"
)

// Scheduler runs the recurring maintenance jobs: hourly auth cleanup and a
// daily streak-lapse sweep.
type Scheduler struct {
	scheduler   *gocron.Scheduler
	authService *service.AuthService
	profileRepo *repository.ProfileRepository
}

// New creates a new scheduler instance
func New(authService *service.AuthService, profileRepo *repository.ProfileRepository) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler:   s,
		authService: authService,
		profileRepo: profileRepo,
	}
}

// Start begins running all scheduled tasks without blocking
func (s *Scheduler) Start() {
	s.scheduler.Every(1).Hour().Do(s.cleanupAuth)
	s.scheduler.Every(1).Day().At("00:05").Do(s.resetLapsedStreaks)
	s.scheduler.StartAsync()
}

// Stop terminates all scheduled tasks
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

func (s *Scheduler) cleanupAuth() {
	if err := s.authService.CleanupExpiredSessions(); err != nil {
		log.Printf("Error cleaning up expired sessions: %v", err)
	}
	if err := s.authService.CleanupExpiredPasswordResetTokens(); err != nil {
		log.Printf("Error cleaning up expired reset tokens: %v", err)
	}
}

// streakCutoff is the oldest activity day that still counts as an unbroken
// streak: the start of yesterday, UTC. A streak survives exactly one missed
// midnight; the second one ends it.
func streakCutoff(now time.Time) time.Time {
	return now.UTC().Truncate(24 * time.Hour).AddDate(0, 0, -1)
}

// resetLapsedStreaks zeroes streaks whose last activity is before the cutoff
func (s *Scheduler) resetLapsedStreaks() {
	affected, err := s.profileRepo.ResetLapsedStreaks(streakCutoff(time.Now()))
	if err != nil {
		log.Printf("Error resetting lapsed streaks: %v", err)
		return
	}
	if affected > 0 {
		log.Printf("Reset %d lapsed streaks", affected)
	}
}
