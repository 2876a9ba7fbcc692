package service

import (
	"os"
	"path/filepath"
	"testing"

	"journey/internal/database"
	"journey/internal/repository"
)

func TestParseFrontMatter(t *testing.T) {
	doc := `---
title: "Variables and Types"
description: Learn how to declare things
estimatedTime: 12
order: 2
xpReward: 75
---

# Variables

Body text here.
`

	fm, body, err := ParseFrontMatter(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fm.Title != "Variables and Types" {
		t.Errorf("title = %q", fm.Title)
	}
	if fm.Description != "Learn how to declare things" {
		t.Errorf("description = %q", fm.Description)
	}
	if fm.EstimatedTime != 12 || fm.Order != 2 || fm.XPReward != 75 {
		t.Errorf("numeric fields = %d, %d, %d", fm.EstimatedTime, fm.Order, fm.XPReward)
	}
	if body == "" || body[0] == '-' {
		t.Errorf("body not trimmed of front matter: %q", body)
	}
}

func TestParseFrontMatterStripsBOM(t *testing.T) {
	doc := "\ufeff---\ntitle: X\ndescription: Y\nestimatedTime: 5\norder: 1\nxpReward: 10\n---\nbody"

	fm, body, err := ParseFrontMatter(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fm.Title != "X" {
		t.Errorf("title = %q", fm.Title)
	}
	if body != "body" {
		t.Errorf("body = %q", body)
	}
}

func TestParseFrontMatterErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing block", "# Just a heading\n"},
		{"unterminated block", "---\ntitle: X\n"},
		{"malformed line", "---\ntitle X\n---\nbody"},
		{"bad number", "---\ntitle: X\norder: two\n---\nbody"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseFrontMatter(tt.doc); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestContentSync(t *testing.T) {
	db, err := database.Initialize(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.RunMigrations("../../migrations"); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	contentPath := t.TempDir()
	chapterDir := filepath.Join(contentPath, "chapters", "getting-started")
	if err := os.MkdirAll(chapterDir, 0o755); err != nil {
		t.Fatal(err)
	}

	manifest := `{"title": "Getting Started", "description": "First steps", "order": 1, "category": "core", "xpReward": 100}`
	if err := os.WriteFile(filepath.Join(chapterDir, "chapter.json"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	lesson := `---
title: Hello World
description: Your first program
estimatedTime: 5
order: 1
xpReward: 25
---
# Hello

Write it.
`
	if err := os.WriteFile(filepath.Join(chapterDir, "hello-world.md"), []byte(lesson), 0o644); err != nil {
		t.Fatal(err)
	}

	chapterRepo := repository.NewChapterRepository(db)
	lessonRepo := repository.NewLessonRepository(db)
	svc := NewContentService(chapterRepo, lessonRepo, contentPath)

	if err := svc.Sync(); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	chapter, err := chapterRepo.GetBySlug("getting-started")
	if err != nil {
		t.Fatalf("failed to load chapter: %v", err)
	}
	if chapter == nil {
		t.Fatal("chapter not synced")
	}
	if chapter.Title != "Getting Started" || chapter.XPReward != 100 {
		t.Errorf("chapter fields wrong: %+v", chapter)
	}
	if !chapter.IsPublished() {
		t.Error("synced chapter should be published")
	}

	synced, err := lessonRepo.GetBySlug(chapter.ID, "hello-world")
	if err != nil {
		t.Fatalf("failed to load lesson: %v", err)
	}
	if synced == nil {
		t.Fatal("lesson not synced")
	}
	if synced.Title != "Hello World" || synced.EstimatedTime != 5 || synced.XPReward != 25 {
		t.Errorf("lesson fields wrong: %+v", synced)
	}

	content, err := lessonRepo.GetContent(synced.ID)
	if err != nil {
		t.Fatalf("failed to load content: %v", err)
	}
	if content == nil || content.Content == "" {
		t.Fatal("lesson body not stored")
	}
	if content.Version != 1 {
		t.Errorf("content version = %d, want 1", content.Version)
	}

	// Re-sync updates in place rather than duplicating.
	if err := svc.Sync(); err != nil {
		t.Fatalf("re-sync failed: %v", err)
	}
	lessons, err := lessonRepo.GetByChapter(chapter.ID)
	if err != nil {
		t.Fatalf("failed to list lessons: %v", err)
	}
	if len(lessons) != 1 {
		t.Errorf("expected 1 lesson after re-sync, got %d", len(lessons))
	}
}
