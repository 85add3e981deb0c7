package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vampirenirmal/novelist/internal/plot"
	"github.com/vampirenirmal/novelist/internal/story"
)

// SaveRegistry writes the full plot-thread registry back to the store,
// replacing the previous representation. The registry is a projection, not
// an independently durable structure; callers load it, mutate it, and write
// it back in full.
func (s *Store) SaveRegistry(ctx context.Context, r *plot.Registry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM thread_developments`); err != nil {
			return fmt.Errorf("clearing thread developments: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM plot_threads`); err != nil {
			return fmt.Errorf("clearing plot threads: %w", err)
		}

		for pos, name := range r.Names() {
			t, err := r.Thread(name)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO plot_threads (name, position, description, importance, status,
					first_chapter, first_scene, last_chapter, last_scene, related_characters)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				t.Name, pos, t.Description, string(t.Importance), string(t.Status),
				t.FirstChapter, t.FirstScene, t.LastChapter, t.LastScene,
				marshalList(t.RelatedCharacters)); err != nil {
				return fmt.Errorf("inserting thread %q: %w", t.Name, err)
			}
			for i, d := range t.Developments {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO thread_developments (thread_name, position, chapter_num, scene_num,
						description, is_resolution, is_abandonment)
					VALUES (?, ?, ?, ?, ?, ?, ?)`,
					t.Name, i, d.Chapter, d.Scene, d.Description,
					boolInt(d.IsResolution), boolInt(d.IsAbandonment)); err != nil {
					return fmt.Errorf("inserting development %d of %q: %w", i, t.Name, err)
				}
			}
		}
		return nil
	})
}

// LoadRegistry rebuilds the plot-thread registry from the store.
func (s *Store) LoadRegistry(ctx context.Context) (*plot.Registry, error) {
	r := plot.NewRegistry()

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, description, importance, status, first_chapter, first_scene,
			last_chapter, last_scene, related_characters
		FROM plot_threads ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("querying plot threads: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t plot.Thread
		var importance, status, related string
		if err := rows.Scan(&t.Name, &t.Description, &importance, &status,
			&t.FirstChapter, &t.FirstScene, &t.LastChapter, &t.LastScene, &related); err != nil {
			return nil, fmt.Errorf("scanning plot thread: %w", err)
		}
		t.Importance = story.ThreadImportance(importance)
		t.Status = story.ThreadStatus(status)
		t.RelatedCharacters = unmarshalList(related)

		devRows, err := s.db.QueryContext(ctx, `
			SELECT chapter_num, scene_num, description, is_resolution, is_abandonment
			FROM thread_developments WHERE thread_name = ? ORDER BY position`, t.Name)
		if err != nil {
			return nil, fmt.Errorf("querying developments of %q: %w", t.Name, err)
		}
		for devRows.Next() {
			var d plot.Development
			var res, aband int
			if err := devRows.Scan(&d.Chapter, &d.Scene, &d.Description, &res, &aband); err != nil {
				devRows.Close()
				return nil, fmt.Errorf("scanning development: %w", err)
			}
			d.IsResolution = res != 0
			d.IsAbandonment = aband != 0
			t.Developments = append(t.Developments, d)
		}
		devRows.Close()
		if err := devRows.Err(); err != nil {
			return nil, err
		}

		r.AddThread(&t)
	}
	return r, rows.Err()
}

// ScenesWithThreadDevelopment returns the distinct coordinates where the
// thread has a recorded development, in story order. The impact analyzer
// uses this development-log join to fan a thread change out to scenes.
func (s *Store) ScenesWithThreadDevelopment(ctx context.Context, threadName string) ([]story.Coordinate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT chapter_num, scene_num
		FROM thread_developments WHERE thread_name = ?
		ORDER BY chapter_num, scene_num`, threadName)
	if err != nil {
		return nil, fmt.Errorf("querying thread developments: %w", err)
	}
	defer rows.Close()

	var coords []story.Coordinate
	for rows.Next() {
		var c story.Coordinate
		if err := rows.Scan(&c.Chapter, &c.Scene); err != nil {
			return nil, fmt.Errorf("scanning development coordinate: %w", err)
		}
		coords = append(coords, c)
	}
	return coords, rows.Err()
}

// DevelopmentsAt returns the plot developments recorded at one coordinate,
// as "thread: description" lines. The cascade executor turns these into
// must-preserve constraints for a rewrite.
func (s *Store) DevelopmentsAt(ctx context.Context, at story.Coordinate) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_name, description FROM thread_developments
		WHERE chapter_num = ? AND scene_num = ?
		ORDER BY thread_name, position`, at.Chapter, at.Scene)
	if err != nil {
		return nil, fmt.Errorf("querying developments at %s: %w", at, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name, desc string
		if err := rows.Scan(&name, &desc); err != nil {
			return nil, fmt.Errorf("scanning development: %w", err)
		}
		out = append(out, fmt.Sprintf("%s: %s", name, desc))
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
