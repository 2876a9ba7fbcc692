package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"journey/internal/database"
	"journey/internal/models"
	"journey/internal/progress"
	"journey/internal/repository"
	"journey/internal/security"
	"journey/internal/service"
)

type handlerFixture struct {
	db         *database.DB
	middleware *Middleware
	journey    *JourneyHandler
	auth       *service.AuthService
	stores     *progress.Registry
	user       *models.User
	session    *models.Session
	csrf       *security.CSRFGenerator
	lessonIDs  []int64
}

func setupHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	db, err := database.Initialize(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.RunMigrations("../../migrations"); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	chapterRepo := repository.NewChapterRepository(db)
	lessonRepo := repository.NewLessonRepository(db)
	progressRepo := repository.NewProgressRepository(db)
	profileRepo := repository.NewProfileRepository(db)

	authService := service.NewAuthService(userRepo, profileRepo, 24*time.Hour)
	if _, err := authService.Register("learner@example.com", "password123", "Learner"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	session, user, err := authService.Login("learner@example.com", "password123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	chapterID, err := chapterRepo.Upsert(&models.Chapter{
		Slug:          "foundations",
		Title:         "Foundations",
		OrderSequence: 1,
		Status:        models.ContentPublished,
	})
	if err != nil {
		t.Fatalf("failed to create chapter: %v", err)
	}
	if _, err := chapterRepo.Upsert(&models.Chapter{
		Slug:          "advanced",
		Title:         "Advanced",
		OrderSequence: 2,
		Status:        models.ContentDraft,
	}); err != nil {
		t.Fatalf("failed to create draft chapter: %v", err)
	}

	var lessonIDs []int64
	for i, slug := range []string{"alpha", "beta"} {
		id, err := lessonRepo.Upsert(&models.Lesson{
			Slug:          slug,
			ChapterID:     chapterID,
			Title:         slug,
			EstimatedTime: 10,
			OrderSequence: i + 1,
			XPReward:      50,
			Status:        models.ContentPublished,
		})
		if err != nil {
			t.Fatalf("failed to create lesson %s: %v", slug, err)
		}
		lessonIDs = append(lessonIDs, id)
	}

	feed := database.NewInProcessFeed()
	t.Cleanup(func() { feed.Close() })

	journeyService := service.NewJourneyService(chapterRepo, lessonRepo, progressRepo, profileRepo)
	progressService := service.NewProgressService(db, progressRepo, profileRepo, chapterRepo, lessonRepo, feed, 1000)

	csrf := security.NewCSRFGenerator("test-csrf-secret")
	rateLimiter := security.NewRateLimiter(100, time.Minute)
	stores := progress.NewRegistry(progressService, feed)
	t.Cleanup(stores.Close)

	return &handlerFixture{
		db:         db,
		middleware: NewMiddleware(authService, csrf, rateLimiter, stores),
		journey:    NewJourneyHandler(journeyService, progressService, stores, template.New("t"), csrf),
		auth:       authService,
		stores:     stores,
		user:       user,
		session:    session,
		csrf:       csrf,
		lessonIDs:  lessonIDs,
	}
}

// backdateStart rewinds a started lesson far enough into the past that the
// elapsed-time completion check passes, then reloads the session store.
func (f *handlerFixture) backdateStart(t *testing.T, lessonID int64) {
	t.Helper()

	past := time.Now().UTC().Add(-time.Hour)
	if _, err := f.db.Exec(
		"UPDATE user_lesson_progress SET started_at = ? WHERE user_id = ? AND lesson_id = ?",
		past, f.user.ID, lessonID,
	); err != nil {
		t.Fatalf("failed to backdate start: %v", err)
	}
	// Refresh until the snapshot reflects the rewound row; a notification
	// from the start call may still be settling in the background.
	store := f.stores.Acquire(context.Background(), f.session.ID, f.user.ID)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := store.Refresh(context.Background()); err != nil {
			t.Fatalf("failed to refresh store: %v", err)
		}
		if ok, err := store.CanComplete(lessonID, time.Now()); err == nil && ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("store never observed the backdated start")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// authedRequest builds a request carrying the session cookie and the user in
// context, the way RequireAuth leaves it for downstream handlers.
func (f *handlerFixture) authedRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.AddCookie(&http.Cookie{Name: security.SessionCookieName, Value: f.session.ID})
	ctx := context.WithValue(req.Context(), UserContextKey, f.user)
	return req.WithContext(ctx)
}

func TestRequireAuthRedirectsAnonymous(t *testing.T) {
	f := setupHandlerFixture(t)

	handler := f.middleware.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run without a session")
	})

	req := httptest.NewRequest(http.MethodGet, "/journey", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusSeeOther)
	}
	if loc := rec.Header().Get("Location"); loc != "/sign-in" {
		t.Errorf("redirect location = %q, want /sign-in", loc)
	}
}

func TestRequireAuthRejectsStaleSession(t *testing.T) {
	f := setupHandlerFixture(t)

	if err := f.auth.Logout(f.session.ID); err != nil {
		t.Fatalf("logout failed: %v", err)
	}

	handler := f.middleware.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run with an invalidated session")
	})

	req := httptest.NewRequest(http.MethodGet, "/journey", nil)
	req.AddCookie(&http.Cookie{Name: security.SessionCookieName, Value: f.session.ID})
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusSeeOther)
	}
}

func TestRequireAuthPassesUserThrough(t *testing.T) {
	f := setupHandlerFixture(t)

	var seen *models.User
	handler := f.middleware.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/journey", nil)
	req.AddCookie(&http.Cookie{Name: security.SessionCookieName, Value: f.session.ID})
	rec := httptest.NewRecorder()
	handler(rec, req)

	if seen == nil || seen.ID != f.user.ID {
		t.Errorf("context user = %+v, want user %d", seen, f.user.ID)
	}
}

func TestCSRFProtect(t *testing.T) {
	f := setupHandlerFixture(t)

	called := false
	handler := f.middleware.CSRFProtect(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := f.authedRequest(http.MethodPost, "/journey/lessons/1/start")
	req.Header.Set("X-CSRF-Token", "forged")
	rec := httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusForbidden || called {
		t.Errorf("forged token: status = %d, called = %v", rec.Code, called)
	}

	token, err := f.csrf.GenerateToken(f.session.ID)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	req = f.authedRequest(http.MethodPost, "/journey/lessons/1/start")
	req.Header.Set("X-CSRF-Token", token)
	rec = httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusOK || !called {
		t.Errorf("valid token: status = %d, called = %v", rec.Code, called)
	}
}

func TestShowChapterUnknownSlug(t *testing.T) {
	f := setupHandlerFixture(t)

	for _, slug := range []string{"no-such-chapter", "Bad_Slug!"} {
		req := f.authedRequest(http.MethodGet, "/journey/chapters/"+slug)
		req.SetPathValue("chapterSlug", slug)
		rec := httptest.NewRecorder()
		f.journey.ShowChapter(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("slug %q: status = %d, want %d", slug, rec.Code, http.StatusNotFound)
		}
	}
}

func TestShowChapterDraftRedirects(t *testing.T) {
	f := setupHandlerFixture(t)

	req := f.authedRequest(http.MethodGet, "/journey/chapters/advanced")
	req.SetPathValue("chapterSlug", "advanced")
	rec := httptest.NewRecorder()
	f.journey.ShowChapter(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusSeeOther)
	}
	if loc := rec.Header().Get("Location"); loc != "/journey" {
		t.Errorf("redirect location = %q, want /journey", loc)
	}
}

func TestStartLessonLocked(t *testing.T) {
	f := setupHandlerFixture(t)

	// The second lesson is locked until the first is completed.
	target := fmt.Sprintf("/journey/lessons/%d/start", f.lessonIDs[1])
	req := f.authedRequest(http.MethodPost, target)
	req.SetPathValue("lessonId", fmt.Sprint(f.lessonIDs[1]))
	rec := httptest.NewRecorder()
	f.journey.StartLesson(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestStartAndCompleteLesson(t *testing.T) {
	f := setupHandlerFixture(t)

	target := fmt.Sprintf("/journey/lessons/%d/start", f.lessonIDs[0])
	req := f.authedRequest(http.MethodPost, target)
	req.SetPathValue("lessonId", fmt.Sprint(f.lessonIDs[0]))
	rec := httptest.NewRecorder()
	f.journey.StartLesson(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, body %s", rec.Code, rec.Body.String())
	}
	var started struct {
		LessonID    int64  `json:"lesson_id"`
		IsCompleted bool   `json:"is_completed"`
		StartedAt   string `json:"started_at"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatalf("bad start response: %v", err)
	}
	if started.LessonID != f.lessonIDs[0] || started.IsCompleted || started.StartedAt == "" {
		t.Errorf("start response = %+v", started)
	}

	f.backdateStart(t, f.lessonIDs[0])

	target = fmt.Sprintf("/journey/lessons/%d/complete", f.lessonIDs[0])
	req = f.authedRequest(http.MethodPost, target)
	req.SetPathValue("lessonId", fmt.Sprint(f.lessonIDs[0]))
	rec = httptest.NewRecorder()
	f.journey.CompleteLesson(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("complete status = %d, body %s", rec.Code, rec.Body.String())
	}
	var completed struct {
		XPAwarded        int  `json:"xp_awarded"`
		AlreadyCompleted bool `json:"already_completed"`
		TotalXP          int  `json:"total_xp"`
		CurrentLevel     int  `json:"current_level"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &completed); err != nil {
		t.Fatalf("bad complete response: %v", err)
	}
	if completed.XPAwarded != 50 || completed.AlreadyCompleted {
		t.Errorf("complete response = %+v", completed)
	}
	if completed.TotalXP != 50 || completed.CurrentLevel != 1 {
		t.Errorf("profile in response = %+v", completed)
	}
}

func TestCompleteLessonBeforeTimeElapsed(t *testing.T) {
	f := setupHandlerFixture(t)

	target := fmt.Sprintf("/journey/lessons/%d/start", f.lessonIDs[0])
	req := f.authedRequest(http.MethodPost, target)
	req.SetPathValue("lessonId", fmt.Sprint(f.lessonIDs[0]))
	rec := httptest.NewRecorder()
	f.journey.StartLesson(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, body %s", rec.Code, rec.Body.String())
	}

	// The lesson estimates 10 minutes, so an immediate completion is refused.
	target = fmt.Sprintf("/journey/lessons/%d/complete", f.lessonIDs[0])
	req = f.authedRequest(http.MethodPost, target)
	req.SetPathValue("lessonId", fmt.Sprint(f.lessonIDs[0]))
	rec = httptest.NewRecorder()
	f.journey.CompleteLesson(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestCompleteUnstartedLessonRefused(t *testing.T) {
	f := setupHandlerFixture(t)

	target := fmt.Sprintf("/journey/lessons/%d/complete", f.lessonIDs[0])
	req := f.authedRequest(http.MethodPost, target)
	req.SetPathValue("lessonId", fmt.Sprint(f.lessonIDs[0]))
	rec := httptest.NewRecorder()
	f.journey.CompleteLesson(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestSignOutReleasesSessionStore(t *testing.T) {
	f := setupHandlerFixture(t)

	store := f.stores.Acquire(context.Background(), f.session.ID, f.user.ID)
	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	authHandler := NewAuthHandler(f.auth, nil, f.stores, template.New("t"), nil, "")
	req := f.authedRequest(http.MethodPost, "/sign-out")
	rec := httptest.NewRecorder()
	authHandler.SignOut(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("sign-out status = %d, want %d", rec.Code, http.StatusSeeOther)
	}
	if err := store.Refresh(context.Background()); err == nil {
		t.Error("store should be closed after sign-out")
	}

	// A fresh session acquires a fresh, working store.
	replacement := f.stores.Acquire(context.Background(), f.session.ID, f.user.ID)
	if replacement == store {
		t.Error("released session should not hand back the closed store")
	}
}

func TestStartLessonUnknownID(t *testing.T) {
	f := setupHandlerFixture(t)

	req := f.authedRequest(http.MethodPost, "/journey/lessons/9999/start")
	req.SetPathValue("lessonId", "9999")
	rec := httptest.NewRecorder()
	f.journey.StartLesson(rec, req)

	// Unknown lessons fail the availability check before the start path runs.
	if rec.Code != http.StatusForbidden && rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 403 or 404", rec.Code)
	}
}
