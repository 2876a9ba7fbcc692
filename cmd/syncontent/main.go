// Command syncontent loads authored chapters and lessons from the content
// directory into the database. Safe to re-run; existing rows are updated in
// place.
package main

import (
	"flag"
	"log"

	"journey/internal/config"
	"journey/internal/database"
	"journey/internal/repository"
	"journey/internal/service"
)

func main() {
	contentPath := flag.String("content", "", "content directory (defaults to CONTENT_PATH)")
	flag.Parse()

	cfg := config.Load()
	if *contentPath != "" {
		cfg.ContentPath = *contentPath
	}

	db, err := database.InitializeWithConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if err := db.RunMigrations(cfg.MigrationsPath); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	chapterRepo := repository.NewChapterRepository(db)
	lessonRepo := repository.NewLessonRepository(db)
	contentService := service.NewContentService(chapterRepo, lessonRepo, cfg.ContentPath)

	log.Printf("Syncing content from %s", cfg.ContentPath)
	if err := contentService.Sync(); err != nil {
		log.Fatalf("Content sync failed: %v", err)
	}
	log.Println("Content sync completed successfully")
}
