package handlers

import (
	"encoding/json"
	"errors"
	"html/template"
	"log"
	"net/http"
	"strconv"
	"time"

	"journey/internal/models"
	"journey/internal/progress"
	"journey/internal/security"
	"journey/internal/service"
	"journey/internal/validation"
)

// JourneyHandler serves the learner-facing pages and the JSON progress
// endpoints behind them. Progress reads and writes go through the caller's
// session store, which tracks change-feed notifications between requests.
type JourneyHandler struct {
	journeyService  *service.JourneyService
	progressService *service.ProgressService
	stores          *progress.Registry
	templates       *template.Template
	csrf            *security.CSRFGenerator
}

// NewJourneyHandler creates a new journey handler
func NewJourneyHandler(journeyService *service.JourneyService, progressService *service.ProgressService, stores *progress.Registry, templates *template.Template, csrf *security.CSRFGenerator) *JourneyHandler {
	return &JourneyHandler{
		journeyService:  journeyService,
		progressService: progressService,
		stores:          stores,
		templates:       templates,
		csrf:            csrf,
	}
}

// sessionStore resolves the caller's per-session progress store. Behind
// RequireAuth the session cookie is always present; without it there is no
// session to key a store on.
func (h *JourneyHandler) sessionStore(r *http.Request) *progress.Store {
	user := GetUserFromContext(r.Context())
	cookie, err := r.Cookie(security.SessionCookieName)
	if err != nil || user == nil {
		return nil
	}
	return h.stores.Acquire(r.Context(), cookie.Value, user.ID)
}

// Dashboard renders the journey overview: every chapter with the user's
// completion counts, plus level, XP and streak.
func (h *JourneyHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())

	chapters, err := h.journeyService.GetChapters(user.ID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, ErrInternalServerError, "Error loading chapters", err)
		return
	}

	// The session store serves the profile strip from its snapshot; a store
	// that has never refreshed successfully falls back to a direct read.
	var profile *models.Profile
	if store := h.sessionStore(r); store != nil {
		profile = store.Profile()
	}
	if profile == nil {
		var err error
		profile, err = h.journeyService.GetProfile(user.ID)
		if err != nil {
			respondWithError(w, http.StatusInternalServerError, ErrInternalServerError, "Error loading profile", err)
			return
		}
	}

	data := map[string]interface{}{
		"Title":     "Your Journey",
		"User":      user,
		"Chapters":  chapters,
		"Profile":   profile,
		"CSRFToken": h.csrfToken(r),
	}
	if err := h.templates.ExecuteTemplate(w, "journey.tmpl", data); err != nil {
		log.Printf("Error rendering journey template: %v", err)
		http.Error(w, ErrInternalServerError, http.StatusInternalServerError)
	}
}

// ShowChapter renders one chapter with its lesson list. Unknown slugs get a
// 404 without touching progress; unpublished chapters bounce back to the
// dashboard.
func (h *JourneyHandler) ShowChapter(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())

	chapterSlug := r.PathValue("chapterSlug")
	if err := validation.ValidateSlug(chapterSlug); err != nil {
		http.NotFound(w, r)
		return
	}

	detail, err := h.journeyService.GetChapter(user.ID, chapterSlug)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, ErrInternalServerError, "Error loading chapter", err)
		return
	}
	if detail == nil {
		http.NotFound(w, r)
		return
	}
	if !detail.IsPublished() {
		http.Redirect(w, r, "/journey", http.StatusSeeOther)
		return
	}

	data := map[string]interface{}{
		"Title":     detail.Title + " - Journey",
		"User":      user,
		"Chapter":   detail,
		"CSRFToken": h.csrfToken(r),
	}
	if err := h.templates.ExecuteTemplate(w, "chapter.tmpl", data); err != nil {
		log.Printf("Error rendering chapter template: %v", err)
		http.Error(w, ErrInternalServerError, http.StatusInternalServerError)
	}
}

// ShowLesson renders a lesson page. Resolution is chained, so a broken
// chapter or lesson slug 404s before any progress is read.
func (h *JourneyHandler) ShowLesson(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())

	chapterSlug := r.PathValue("chapterSlug")
	lessonSlug := r.PathValue("lessonSlug")
	if validation.ValidateSlug(chapterSlug) != nil || validation.ValidateSlug(lessonSlug) != nil {
		http.NotFound(w, r)
		return
	}

	page, err := h.journeyService.GetLesson(user.ID, chapterSlug, lessonSlug)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, ErrInternalServerError, "Error loading lesson", err)
		return
	}
	if page == nil {
		http.NotFound(w, r)
		return
	}
	if !page.Chapter.IsPublished() {
		http.Redirect(w, r, "/journey", http.StatusSeeOther)
		return
	}

	data := map[string]interface{}{
		"Title":     page.View.Title + " - Journey",
		"User":      user,
		"Page":      page,
		"CSRFToken": h.csrfToken(r),
	}
	if err := h.templates.ExecuteTemplate(w, "lesson.tmpl", data); err != nil {
		log.Printf("Error rendering lesson template: %v", err)
		http.Error(w, ErrInternalServerError, http.StatusInternalServerError)
	}
}

// StartLesson records a lesson start and answers JSON
func (h *JourneyHandler) StartLesson(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())

	lessonID, err := strconv.ParseInt(r.PathValue("lessonId"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid lesson id")
		return
	}

	available, err := h.journeyService.CheckLessonAvailability(user.ID, lessonID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to check availability")
		log.Printf("Error checking lesson availability: %v", err)
		return
	}
	if !available {
		writeJSONError(w, http.StatusForbidden, "lesson is locked")
		return
	}

	store := h.sessionStore(r)
	if store == nil {
		writeJSONError(w, http.StatusUnauthorized, "session required")
		return
	}

	row, err := store.StartLesson(r.Context(), lessonID)
	if err != nil {
		if errors.Is(err, service.ErrLessonNotFound) {
			writeJSONError(w, http.StatusNotFound, "lesson not found")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to start lesson")
		log.Printf("Error starting lesson %d for user %d: %v", lessonID, user.ID, err)
		return
	}

	response := map[string]interface{}{
		"lesson_id":    row.LessonID,
		"is_completed": row.IsCompleted,
	}
	if row.StartedAt != nil {
		response["started_at"] = row.StartedAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, response)
}

// CompleteLesson completes a lesson and answers JSON including the XP
// awarded. Repeat completions answer zero XP.
func (h *JourneyHandler) CompleteLesson(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())

	lessonID, err := strconv.ParseInt(r.PathValue("lessonId"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid lesson id")
		return
	}

	store := h.sessionStore(r)
	if store == nil {
		writeJSONError(w, http.StatusUnauthorized, "session required")
		return
	}

	// A lesson can only be completed once most of its estimated time has
	// elapsed since it was started. Unstarted lessons fail the same check.
	allowed, err := store.CanComplete(lessonID, time.Now())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to check lesson state")
		log.Printf("Error checking completion readiness for lesson %d user %d: %v", lessonID, user.ID, err)
		return
	}
	if !allowed {
		writeJSONError(w, http.StatusForbidden, "lesson cannot be completed yet")
		return
	}

	result, err := store.CompleteLesson(r.Context(), lessonID)
	if err != nil {
		if errors.Is(err, service.ErrLessonNotFound) {
			writeJSONError(w, http.StatusNotFound, "lesson not found")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to complete lesson")
		log.Printf("Error completing lesson %d for user %d: %v", lessonID, user.ID, err)
		return
	}

	response := map[string]interface{}{
		"xp_awarded":        result.XPAwarded,
		"already_completed": result.AlreadyCompleted,
	}
	if result.Profile != nil {
		response["total_xp"] = result.Profile.TotalXP
		response["current_level"] = result.Profile.CurrentLevel
		response["streak_count"] = result.Profile.StreakCount
	}
	writeJSON(w, http.StatusOK, response)
}

// Search renders lesson search results
func (h *JourneyHandler) Search(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())

	query := r.URL.Query().Get("q")
	var results []service.SearchResult
	if err := validation.ValidateSearchQuery(query); err == nil {
		var searchErr error
		results, searchErr = h.journeyService.SearchLessons(query, user.ID, 20)
		if searchErr != nil {
			respondWithError(w, http.StatusInternalServerError, ErrInternalServerError, "Error searching lessons", searchErr)
			return
		}
	}

	data := map[string]interface{}{
		"Title":   "Search - Journey",
		"User":    user,
		"Query":   query,
		"Results": results,
	}
	if err := h.templates.ExecuteTemplate(w, "search.tmpl", data); err != nil {
		log.Printf("Error rendering search template: %v", err)
		http.Error(w, ErrInternalServerError, http.StatusInternalServerError)
	}
}

// UnlockChapter records a chapter unlock for a user. Admin only; unlocks
// are always explicit.
func (h *JourneyHandler) UnlockChapter(w http.ResponseWriter, r *http.Request) {
	chapterID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid chapter id")
		return
	}
	userID, err := strconv.ParseInt(r.PathValue("userId"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	if err := h.progressService.UnlockChapter(userID, chapterID); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to unlock chapter")
		log.Printf("Error unlocking chapter %d for user %d: %v", chapterID, userID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"unlocked": true})
}

func (h *JourneyHandler) csrfToken(r *http.Request) string {
	cookie, err := r.Cookie(security.SessionCookieName)
	if err != nil {
		return ""
	}
	token, err := h.csrf.GenerateToken(cookie.Value)
	if err != nil {
		return ""
	}
	return token
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
