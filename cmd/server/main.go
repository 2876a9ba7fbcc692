package main

import (
	"fmt"
	"html/template"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"journey/internal/config"
	"journey/internal/database"
	"journey/internal/handlers"
	"journey/internal/progress"
	"journey/internal/repository"
	"journey/internal/scheduler"
	"journey/internal/security"
	"journey/internal/service"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/google"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database with config (supports sqlite, postgres, mysql)
	db, err := database.InitializeWithConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	log.Printf("Database connection established (type: %s)", cfg.DatabaseType)

	// Run migrations
	if err := db.RunMigrations(cfg.MigrationsPath); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	log.Println("Migrations completed successfully")

	// Load templates
	templates, err := loadTemplates(cfg.TemplatesPath)
	if err != nil {
		log.Fatalf("Failed to load templates: %v", err)
	}

	log.Println("Templates loaded successfully")

	// Change feed: Postgres deployments share progress notifications across
	// processes through LISTEN/NOTIFY, everything else stays in-process
	var feed database.ChangeFeed
	if cfg.DatabaseType == "postgres" {
		pgFeed, err := database.NewPostgresFeed(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to start postgres change feed: %v", err)
		}
		feed = pgFeed
	} else {
		feed = database.NewInProcessFeed()
	}
	defer feed.Close()

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	chapterRepo := repository.NewChapterRepository(db)
	lessonRepo := repository.NewLessonRepository(db)
	progressRepo := repository.NewProgressRepository(db)
	profileRepo := repository.NewProfileRepository(db)

	// Initialize services
	authService := service.NewAuthService(userRepo, profileRepo, cfg.SessionDuration)
	emailService, err := service.NewEmailService(cfg.AWSRegion, cfg.SESFromEmail, cfg.SESFromName, cfg.AppBaseURL, cfg.EmailDebug)
	if err != nil {
		log.Fatalf("Failed to initialize email service: %v", err)
	}
	journeyService := service.NewJourneyService(chapterRepo, lessonRepo, progressRepo, profileRepo)
	progressService := service.NewProgressService(db, progressRepo, profileRepo, chapterRepo, lessonRepo, feed, cfg.XPPerLevel)

	// Per-session progress stores, refreshed through the change feed
	stores := progress.NewRegistry(progressService, feed)
	defer stores.Close()

	oauthProviders := map[string]handlers.OAuthProvider{
		"google": {
			Name:  "google",
			Label: "Google",
			Config: &oauth2.Config{
				ClientID:     cfg.GoogleClientID,
				ClientSecret: cfg.GoogleClientSecret,
				Endpoint:     google.Endpoint,
				Scopes:       []string{"openid", "email", "profile"},
			},
			UserInfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
		},
		"facebook": {
			Name:  "facebook",
			Label: "Facebook",
			Config: &oauth2.Config{
				ClientID:     cfg.FacebookClientID,
				ClientSecret: cfg.FacebookClientSecret,
				Endpoint:     facebook.Endpoint,
				Scopes:       []string{"email", "public_profile"},
			},
			UserInfoURL: "https://graph.facebook.com/me?fields=id,name,email",
		},
		"apple": {
			Name:  "apple",
			Label: "Apple",
			Config: &oauth2.Config{
				ClientID:     cfg.AppleClientID,
				ClientSecret: cfg.AppleClientSecret,
				Endpoint: oauth2.Endpoint{
					AuthURL:  "https://appleid.apple.com/auth/authorize",
					TokenURL: "https://appleid.apple.com/auth/token",
				},
				Scopes: []string{"name", "email"},
			},
			AuthParams: map[string]string{
				"response_mode": "query",
			},
		},
	}

	// Initialize handlers
	csrf := security.NewCSRFGenerator(cfg.CSRFSecret)
	rateLimiter := security.NewRateLimiter(10, time.Minute)
	middleware := handlers.NewMiddleware(authService, csrf, rateLimiter, stores)
	authHandler := handlers.NewAuthHandler(authService, emailService, stores, templates, oauthProviders, cfg.OAuthRedirectBaseURL)
	journeyHandler := handlers.NewJourneyHandler(journeyService, progressService, stores, templates, csrf)

	// Setup routes
	mux := http.NewServeMux()

	// Static files
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StaticFilesPath))))

	// Public routes
	mux.HandleFunc("GET /", authHandler.Home)
	mux.HandleFunc("GET /sign-in", authHandler.ShowSignIn)
	mux.HandleFunc("POST /sign-in", middleware.RateLimit(authHandler.SignIn))
	mux.HandleFunc("GET /sign-up", authHandler.ShowSignUp)
	mux.HandleFunc("POST /sign-up", middleware.RateLimit(authHandler.SignUp))
	mux.HandleFunc("POST /sign-out", authHandler.SignOut)
	mux.HandleFunc("GET /forgot-password", authHandler.ShowForgotPassword)
	mux.HandleFunc("POST /forgot-password", middleware.RateLimit(authHandler.ForgotPassword))
	mux.HandleFunc("GET /reset-password", authHandler.ShowResetPassword)
	mux.HandleFunc("POST /reset-password", middleware.RateLimit(authHandler.ResetPassword))
	mux.HandleFunc("GET /auth/{provider}/start", authHandler.StartOAuth)
	mux.HandleFunc("GET /auth/{provider}/callback", authHandler.OAuthCallback)

	// Journey routes
	mux.HandleFunc("GET /journey", middleware.RequireAuth(journeyHandler.Dashboard))
	mux.HandleFunc("GET /journey/search", middleware.RequireAuth(journeyHandler.Search))
	mux.HandleFunc("GET /journey/chapters/{chapterSlug}", middleware.RequireAuth(journeyHandler.ShowChapter))
	mux.HandleFunc("GET /journey/chapters/{chapterSlug}/{lessonSlug}", middleware.RequireAuth(journeyHandler.ShowLesson))
	mux.HandleFunc("POST /journey/lessons/{lessonId}/start", middleware.RequireAuth(middleware.CSRFProtect(journeyHandler.StartLesson)))
	mux.HandleFunc("POST /journey/lessons/{lessonId}/complete", middleware.RequireAuth(middleware.CSRFProtect(journeyHandler.CompleteLesson)))

	// Admin routes
	mux.HandleFunc("POST /admin/chapters/{id}/unlock/{userId}", middleware.RequireAdmin(middleware.CSRFProtect(journeyHandler.UnlockChapter)))

	// Wrap with logging middleware
	handler := handlers.Logging(mux)

	// Start server
	addr := ":" + cfg.ServerPort
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Background maintenance jobs
	jobs := scheduler.New(authService, profileRepo)
	jobs.Start()
	defer jobs.Stop()

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on http://localhost%s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
}

// loadTemplates loads all template files
func loadTemplates(templatesPath string) (*template.Template, error) {
	baseTemplate := filepath.Join(templatesPath, "base.tmpl")

	patterns := []string{
		filepath.Join(templatesPath, "auth/*.tmpl"),
		filepath.Join(templatesPath, "journey/*.tmpl"),
	}

	var files []string
	files = append(files, baseTemplate)

	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to glob pattern %s: %w", pattern, err)
		}
		files = append(files, matches...)
	}

	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			return t.Format("Jan 2, 2006")
		},
		"add": func(a, b int) int {
			return a + b
		},
		"sub": func(a, b int) int {
			return a - b
		},
		"pct": func(done, total int) int {
			if total <= 0 {
				return 0
			}
			return done * 100 / total
		},
	}

	tmpl, err := template.New("").Funcs(funcMap).ParseFiles(files...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	return tmpl, nil
}
