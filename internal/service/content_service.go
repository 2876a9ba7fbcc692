package service

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"journey/internal/models"
	"journey/internal/repository"
	"journey/internal/validation"
)

// chapterManifest is the chapter.json file at the root of a chapter directory
type chapterManifest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Order       int    `json:"order"`
	Category    string `json:"category"`
	XPReward    int    `json:"xpReward"`
}

// lessonFrontMatter is the metadata block at the top of a lesson markdown file
type lessonFrontMatter struct {
	Title         string
	Description   string
	EstimatedTime int
	Order         int
	XPReward      int
}

// ContentService syncs authored content from disk into the database.
// Layout: <contentPath>/chapters/<chapter-slug>/chapter.json plus one
// markdown file per lesson, named after its slug, carrying front matter.
type ContentService struct {
	chapterRepo *repository.ChapterRepository
	lessonRepo  *repository.LessonRepository
	contentPath string
}

// NewContentService creates a new content sync service
func NewContentService(chapterRepo *repository.ChapterRepository, lessonRepo *repository.LessonRepository, contentPath string) *ContentService {
	return &ContentService{
		chapterRepo: chapterRepo,
		lessonRepo:  lessonRepo,
		contentPath: contentPath,
	}
}

// Sync walks the content directory and upserts every chapter, lesson and
// lesson body. Running it twice is a no-op apart from refreshed timestamps.
func (s *ContentService) Sync() error {
	chaptersPath := filepath.Join(s.contentPath, "chapters")
	entries, err := os.ReadDir(chaptersPath)
	if err != nil {
		return fmt.Errorf("failed to read content directory %s: %w", chaptersPath, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := s.syncChapter(chaptersPath, entry.Name()); err != nil {
			return fmt.Errorf("chapter %s: %w", entry.Name(), err)
		}
	}

	return nil
}

func (s *ContentService) syncChapter(chaptersPath, chapterDir string) error {
	if err := validation.ValidateSlug(chapterDir); err != nil {
		return err
	}

	manifestPath := filepath.Join(chaptersPath, chapterDir, "chapter.json")
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("failed to read chapter.json: %w", err)
	}

	var manifest chapterManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return fmt.Errorf("invalid chapter.json: %w", err)
	}
	if err := validateChapterManifest(&manifest); err != nil {
		return err
	}

	chapterID, err := s.chapterRepo.Upsert(&models.Chapter{
		Slug:          chapterDir,
		Title:         manifest.Title,
		Description:   manifest.Description,
		OrderSequence: manifest.Order,
		Category:      manifest.Category,
		XPReward:      manifest.XPReward,
		ContentPath:   "/chapters/" + chapterDir,
		Status:        models.ContentPublished,
	})
	if err != nil {
		return err
	}

	files, err := os.ReadDir(filepath.Join(chaptersPath, chapterDir))
	if err != nil {
		return fmt.Errorf("failed to list lesson files: %w", err)
	}

	var lessonFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".md") {
			lessonFiles = append(lessonFiles, file.Name())
		}
	}
	sort.Strings(lessonFiles)

	for _, file := range lessonFiles {
		if err := s.syncLesson(chaptersPath, chapterDir, chapterID, file); err != nil {
			return fmt.Errorf("lesson %s: %w", file, err)
		}
	}

	log.Printf("Synced chapter %s: %d lessons", chapterDir, len(lessonFiles))
	return nil
}

func (s *ContentService) syncLesson(chaptersPath, chapterDir string, chapterID int64, file string) error {
	lessonSlug := strings.TrimSuffix(file, ".md")
	if err := validation.ValidateSlug(lessonSlug); err != nil {
		return err
	}

	raw, err := os.ReadFile(filepath.Join(chaptersPath, chapterDir, file))
	if err != nil {
		return fmt.Errorf("failed to read lesson file: %w", err)
	}

	frontMatter, body, err := ParseFrontMatter(string(raw))
	if err != nil {
		return err
	}
	if frontMatter.Order <= 0 {
		return fmt.Errorf("missing order in front matter")
	}
	if frontMatter.Title == "" {
		return fmt.Errorf("missing title in front matter")
	}

	lessonID, err := s.lessonRepo.Upsert(&models.Lesson{
		Slug:          lessonSlug,
		ChapterID:     chapterID,
		Title:         frontMatter.Title,
		Description:   frontMatter.Description,
		EstimatedTime: frontMatter.EstimatedTime,
		OrderSequence: frontMatter.Order,
		XPReward:      frontMatter.XPReward,
		ContentPath:   "/chapters/" + chapterDir + "/" + file,
		Status:        models.ContentPublished,
	})
	if err != nil {
		return err
	}

	if err := s.lessonRepo.UpsertContent(lessonID, body, 1); err != nil {
		return err
	}

	return nil
}

func validateChapterManifest(manifest *chapterManifest) error {
	var missing []string
	if manifest.Title == "" {
		missing = append(missing, "title")
	}
	if manifest.Description == "" {
		missing = append(missing, "description")
	}
	if manifest.Order <= 0 {
		missing = append(missing, "order")
	}
	if manifest.Category == "" {
		missing = append(missing, "category")
	}
	if manifest.XPReward <= 0 {
		missing = append(missing, "xpReward")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields in chapter.json: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ParseFrontMatter splits a markdown document into its leading metadata
// block, delimited by "---" lines, and the body. The block holds flat
// key: value pairs.
func ParseFrontMatter(document string) (*lessonFrontMatter, string, error) {
	document = strings.TrimLeft(document, "\uFEFF\n\r")
	if !strings.HasPrefix(document, "---") {
		return nil, "", fmt.Errorf("missing front matter block")
	}

	rest := document[len("---"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, "", fmt.Errorf("unterminated front matter block")
	}
	block := rest[:end]
	body := rest[end+len("\n---"):]
	if idx := strings.Index(body, "\n"); idx >= 0 {
		body = body[idx+1:]
	} else {
		body = ""
	}

	frontMatter := &lessonFrontMatter{}
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			return nil, "", fmt.Errorf("malformed front matter line: %q", line)
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		switch key {
		case "title":
			frontMatter.Title = value
		case "description":
			frontMatter.Description = value
		case "estimatedTime":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, "", fmt.Errorf("invalid estimatedTime %q", value)
			}
			frontMatter.EstimatedTime = n
		case "order":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, "", fmt.Errorf("invalid order %q", value)
			}
			frontMatter.Order = n
		case "xpReward":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, "", fmt.Errorf("invalid xpReward %q", value)
			}
			frontMatter.XPReward = n
		}
	}

	return frontMatter, strings.TrimLeft(body, "\n"), nil
}
