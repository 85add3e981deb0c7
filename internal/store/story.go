package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vampirenirmal/novelist/internal/story"
)

// CreateStory inserts the root story row. One per database.
func (s *Store) CreateStory(ctx context.Context, st *story.Story) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stories (id, title, premise, genre, tone, language, structure, style_guide, outline)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.Title, st.Premise, st.Genre, st.Tone, st.Language, st.Structure, st.StyleGuide, st.Outline)
	if err != nil {
		return fmt.Errorf("inserting story: %w", err)
	}
	return nil
}

// Story returns the root story row.
func (s *Store) Story(ctx context.Context) (*story.Story, error) {
	var st story.Story
	var completed int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, premise, genre, tone, language, structure, style_guide, outline, completed, created_at
		FROM stories LIMIT 1`).Scan(
		&st.ID, &st.Title, &st.Premise, &st.Genre, &st.Tone, &st.Language,
		&st.Structure, &st.StyleGuide, &st.Outline, &completed, &st.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("story: %w", story.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying story: %w", err)
	}
	st.Completed = completed != 0
	return &st, nil
}

// UpdateStoryOutline replaces the story's title and global outline text, the
// only mutation the root aggregate allows after creation.
func (s *Store) UpdateStoryOutline(ctx context.Context, title, outline string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE stories SET title = ?, outline = ?`, title, outline)
	if err != nil {
		return fmt.Errorf("updating story outline: %w", err)
	}
	return requireRow(res, "story")
}

// MarkStoryCompleted sets the completion flag.
func (s *Store) MarkStoryCompleted(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx, `UPDATE stories SET completed = 1`)
	if err != nil {
		return fmt.Errorf("marking story complete: %w", err)
	}
	return requireRow(res, "story")
}

// PutWorldElement inserts or amends a world fact, keyed by (category, key).
func (s *Store) PutWorldElement(ctx context.Context, we story.WorldElement) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO world_elements (category, key, value) VALUES (?, ?, ?)
		ON CONFLICT(category, key) DO UPDATE SET value = excluded.value`,
		we.Category, we.Key, we.Value)
	if err != nil {
		return fmt.Errorf("saving world element %s/%s: %w", we.Category, we.Key, err)
	}
	return nil
}

// WorldElements returns all world facts ordered by category then key.
func (s *Store) WorldElements(ctx context.Context) ([]story.WorldElement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, key, value FROM world_elements ORDER BY category, key`)
	if err != nil {
		return nil, fmt.Errorf("querying world elements: %w", err)
	}
	defer rows.Close()

	var elements []story.WorldElement
	for rows.Next() {
		var we story.WorldElement
		if err := rows.Scan(&we.Category, &we.Key, &we.Value); err != nil {
			return nil, fmt.Errorf("scanning world element: %w", err)
		}
		elements = append(elements, we)
	}
	return elements, rows.Err()
}

// PutLocation inserts or updates a location by slug.
func (s *Store) PutLocation(ctx context.Context, loc story.Location) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO locations (slug, name, description) VALUES (?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET name = excluded.name, description = excluded.description`,
		loc.Slug, loc.Name, loc.Description)
	if err != nil {
		return fmt.Errorf("saving location %s: %w", loc.Slug, err)
	}
	return nil
}

// Location returns one location by slug.
func (s *Store) Location(ctx context.Context, slug string) (*story.Location, error) {
	var loc story.Location
	err := s.db.QueryRowContext(ctx,
		`SELECT slug, name, description FROM locations WHERE slug = ?`, slug).
		Scan(&loc.Slug, &loc.Name, &loc.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("location %q: %w", slug, story.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying location: %w", err)
	}
	return &loc, nil
}

// Statistics summarizes store contents for the outer tooling.
type Statistics struct {
	Chapters      int `json:"chapters"`
	Scenes        int `json:"scenes"`
	WrittenScenes int `json:"written_scenes"`
	Characters    int `json:"characters"`
	PlotThreads   int `json:"plot_threads"`
	Progressions  int `json:"progressions"`
	Revisions     int `json:"revisions"`
}

// Stats reports entity counts across the store.
func (s *Store) Stats(ctx context.Context) (*Statistics, error) {
	var st Statistics
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM chapters),
			(SELECT COUNT(*) FROM scenes),
			(SELECT COUNT(*) FROM scenes WHERE content != ''),
			(SELECT COUNT(*) FROM characters),
			(SELECT COUNT(*) FROM plot_threads),
			(SELECT COUNT(*) FROM plot_progressions),
			(SELECT COUNT(*) FROM scene_revisions)`).
		Scan(&st.Chapters, &st.Scenes, &st.WrittenScenes, &st.Characters,
			&st.PlotThreads, &st.Progressions, &st.Revisions)
	if err != nil {
		return nil, fmt.Errorf("querying statistics: %w", err)
	}
	return &st, nil
}

func requireRow(res sql.Result, entity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", entity, story.ErrNotFound)
	}
	return nil
}
