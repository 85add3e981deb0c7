package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vampirenirmal/novelist/internal/story"
)

// CreateChapter inserts a chapter with its sequence number.
func (s *Store) CreateChapter(ctx context.Context, c *story.Chapter) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chapters (number, title, outline, summary)
		VALUES (?, ?, ?, ?)`, c.Number, c.Title, c.Outline, c.Summary)
	if isUniqueViolation(err) {
		return fmt.Errorf("chapter %d already exists: %w", c.Number, story.ErrInvalidInput)
	}
	if err != nil {
		return fmt.Errorf("inserting chapter %d: %w", c.Number, err)
	}
	c.ID, _ = res.LastInsertId()
	return nil
}

// Chapter returns one chapter by number.
func (s *Store) Chapter(ctx context.Context, number int) (*story.Chapter, error) {
	var c story.Chapter
	err := s.db.QueryRowContext(ctx, `
		SELECT id, number, title, outline, summary FROM chapters WHERE number = ?`, number).
		Scan(&c.ID, &c.Number, &c.Title, &c.Outline, &c.Summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chapter %d: %w", number, story.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying chapter: %w", err)
	}
	return &c, nil
}

// Chapters returns all chapters in sequence order.
func (s *Store) Chapters(ctx context.Context) ([]story.Chapter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, number, title, outline, summary FROM chapters ORDER BY number`)
	if err != nil {
		return nil, fmt.Errorf("querying chapters: %w", err)
	}
	defer rows.Close()

	var chapters []story.Chapter
	for rows.Next() {
		var c story.Chapter
		if err := rows.Scan(&c.ID, &c.Number, &c.Title, &c.Outline, &c.Summary); err != nil {
			return nil, fmt.Errorf("scanning chapter: %w", err)
		}
		chapters = append(chapters, c)
	}
	return chapters, rows.Err()
}

// UpdateChapterSummary sets a chapter's rolling summary.
func (s *Store) UpdateChapterSummary(ctx context.Context, number int, summary string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chapters SET summary = ? WHERE number = ?`, summary, number)
	if err != nil {
		return fmt.Errorf("updating chapter summary: %w", err)
	}
	return requireRow(res, fmt.Sprintf("chapter %d", number))
}

// RenumberChapters rewrites chapter numbers to the contiguous sequence 1..N
// in their current order, moving scene coordinates along with them. An
// upstream generator may mislabel chapters; the planner enforces contiguity
// here.
func (s *Store) RenumberChapters(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id, number FROM chapters ORDER BY number`)
		if err != nil {
			return fmt.Errorf("querying chapter numbers: %w", err)
		}
		type entry struct {
			id     int64
			number int
		}
		var entries []entry
		for rows.Next() {
			var e entry
			if err := rows.Scan(&e.id, &e.number); err != nil {
				rows.Close()
				return fmt.Errorf("scanning chapter number: %w", err)
			}
			entries = append(entries, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for i, e := range entries {
			want := i + 1
			if e.number == want {
				continue
			}
			// Negative staging numbers avoid UNIQUE collisions mid-rewrite.
			if _, err := tx.ExecContext(ctx,
				`UPDATE chapters SET number = ? WHERE id = ?`, -want, e.id); err != nil {
				return fmt.Errorf("staging chapter %d: %w", e.number, err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE scenes SET chapter_num = ? WHERE chapter_num = ?`, -want, e.number); err != nil {
				return fmt.Errorf("staging scenes of chapter %d: %w", e.number, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE chapters SET number = -number WHERE number < 0`); err != nil {
			return fmt.Errorf("finalizing chapter numbers: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE scenes SET chapter_num = -chapter_num WHERE chapter_num < 0`); err != nil {
			return fmt.Errorf("finalizing scene chapter numbers: %w", err)
		}
		return nil
	})
}

// CreateScene inserts a scene with its planning metadata.
func (s *Store) CreateScene(ctx context.Context, sc *story.Scene) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scenes (chapter_num, scene_num, description, scene_type, dramatic_goal,
			tension_level, required_progressions, required_learnings, required_characters,
			forbidden_repetitions, prerequisites)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ChapterNum, sc.SceneNum, sc.Description, sc.SceneType, sc.DramaticGoal,
		sc.TensionLevel, marshalList(sc.RequiredProgressions), marshalList(sc.RequiredLearnings),
		marshalList(sc.RequiredCharacters), marshalList(sc.ForbiddenRepetitions),
		marshalList(sc.Prerequisites))
	if isUniqueViolation(err) {
		return fmt.Errorf("scene %s already exists: %w", sc.Coordinate(), story.ErrInvalidInput)
	}
	if err != nil {
		return fmt.Errorf("inserting scene %s: %w", sc.Coordinate(), err)
	}
	sc.ID, _ = res.LastInsertId()
	return nil
}

const sceneColumns = `id, chapter_num, scene_num, description, content, scene_type,
	dramatic_goal, tension_level, summary, revision_count, needs_revision, revision_reason,
	required_progressions, required_learnings, required_characters, forbidden_repetitions, prerequisites`

func scanScene(row interface{ Scan(...any) error }) (*story.Scene, error) {
	var sc story.Scene
	var needsRevision int
	var progressions, learnings, characters, forbidden, prereqs string
	err := row.Scan(&sc.ID, &sc.ChapterNum, &sc.SceneNum, &sc.Description, &sc.Content,
		&sc.SceneType, &sc.DramaticGoal, &sc.TensionLevel, &sc.Summary, &sc.RevisionCount,
		&needsRevision, &sc.RevisionReason, &progressions, &learnings, &characters,
		&forbidden, &prereqs)
	if err != nil {
		return nil, err
	}
	sc.NeedsRevision = needsRevision != 0
	sc.RequiredProgressions = unmarshalList(progressions)
	sc.RequiredLearnings = unmarshalList(learnings)
	sc.RequiredCharacters = unmarshalList(characters)
	sc.ForbiddenRepetitions = unmarshalList(forbidden)
	sc.Prerequisites = unmarshalList(prereqs)
	return &sc, nil
}

// Scene returns one scene by coordinate.
func (s *Store) Scene(ctx context.Context, at story.Coordinate) (*story.Scene, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sceneColumns+` FROM scenes WHERE chapter_num = ? AND scene_num = ?`,
		at.Chapter, at.Scene)
	sc, err := scanScene(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scene %s: %w", at, story.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying scene %s: %w", at, err)
	}
	return sc, nil
}

// ScenesInChapter returns a chapter's scenes in order.
func (s *Store) ScenesInChapter(ctx context.Context, chapterNum int) ([]story.Scene, error) {
	return s.queryScenes(ctx,
		`SELECT `+sceneColumns+` FROM scenes WHERE chapter_num = ? ORDER BY scene_num`, chapterNum)
}

// AllScenes returns every scene in story order.
func (s *Store) AllScenes(ctx context.Context) ([]story.Scene, error) {
	return s.queryScenes(ctx,
		`SELECT `+sceneColumns+` FROM scenes ORDER BY chapter_num, scene_num`)
}

// ScenesNeedingRevision returns scenes flagged for revision, in story order.
func (s *Store) ScenesNeedingRevision(ctx context.Context) ([]story.Scene, error) {
	return s.queryScenes(ctx,
		`SELECT `+sceneColumns+` FROM scenes WHERE needs_revision = 1 ORDER BY chapter_num, scene_num`)
}

func (s *Store) queryScenes(ctx context.Context, query string, args ...any) ([]story.Scene, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying scenes: %w", err)
	}
	defer rows.Close()

	var scenes []story.Scene
	for rows.Next() {
		sc, err := scanScene(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning scene: %w", err)
		}
		scenes = append(scenes, *sc)
	}
	return scenes, rows.Err()
}

// SceneContent returns the written text of a scene, or ErrNotFound when the
// scene does not exist. An unwritten scene yields an empty string.
func (s *Store) SceneContent(ctx context.Context, at story.Coordinate) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM scenes WHERE chapter_num = ? AND scene_num = ?`,
		at.Chapter, at.Scene).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("scene %s: %w", at, story.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("querying scene content: %w", err)
	}
	return content, nil
}

// SaveSceneContent stores the scene's text and summary.
func (s *Store) SaveSceneContent(ctx context.Context, at story.Coordinate, content, summary string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scenes SET content = ?, summary = ?
		WHERE chapter_num = ? AND scene_num = ?`,
		content, summary, at.Chapter, at.Scene)
	if err != nil {
		return fmt.Errorf("saving scene content %s: %w", at, err)
	}
	return requireRow(res, fmt.Sprintf("scene %s", at))
}

// MarkNeedsRevision flags a scene for the cascade executor.
func (s *Store) MarkNeedsRevision(ctx context.Context, sceneID int64, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scenes SET needs_revision = 1, revision_reason = ? WHERE id = ?`,
		reason, sceneID)
	if err != nil {
		return fmt.Errorf("flagging scene %d: %w", sceneID, err)
	}
	return requireRow(res, fmt.Sprintf("scene %d", sceneID))
}

// RecordSceneRevision increments the scene's revision counter, appends the
// addressed issues to its audit trail and clears the pending flag, all in
// one transaction so the orchestrator never loops on a half-updated scene.
func (s *Store) RecordSceneRevision(ctx context.Context, sceneID int64, reason string, issues []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var revision int
		err := tx.QueryRowContext(ctx,
			`SELECT revision_count + 1 FROM scenes WHERE id = ?`, sceneID).Scan(&revision)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("scene %d: %w", sceneID, story.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("querying revision count: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE scenes SET revision_count = ?, needs_revision = 0, revision_reason = ''
			WHERE id = ?`, revision, sceneID); err != nil {
			return fmt.Errorf("updating revision count: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO scene_revisions (scene_id, revision, reason, issues)
			VALUES (?, ?, ?, ?)`, sceneID, revision, reason, marshalList(issues)); err != nil {
			return fmt.Errorf("appending revision audit: %w", err)
		}
		return nil
	})
}

// SceneRevisions returns a scene's revision audit trail in order.
func (s *Store) SceneRevisions(ctx context.Context, sceneID int64) ([]story.SceneRevision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scene_id, revision, reason, issues, revised_at
		FROM scene_revisions WHERE scene_id = ? ORDER BY revision`, sceneID)
	if err != nil {
		return nil, fmt.Errorf("querying scene revisions: %w", err)
	}
	defer rows.Close()

	var revs []story.SceneRevision
	for rows.Next() {
		var r story.SceneRevision
		var issues string
		if err := rows.Scan(&r.SceneID, &r.Revision, &r.Reason, &issues, &r.RevisedAt); err != nil {
			return nil, fmt.Errorf("scanning scene revision: %w", err)
		}
		r.Issues = unmarshalList(issues)
		revs = append(revs, r)
	}
	return revs, rows.Err()
}

// RecordPlotProgression records a one-time narrative beat. The key is
// globally unique; recording it twice reports ErrDuplicateProgression and
// keeps the first recording.
func (s *Store) RecordPlotProgression(ctx context.Context, p *story.PlotProgression) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plot_progressions (key, chapter_num, scene_num, description)
		VALUES (?, ?, ?, ?)`, p.Key, p.ChapterNum, p.SceneNum, p.Description)
	if isUniqueViolation(err) {
		return fmt.Errorf("progression %q: %w", p.Key, story.ErrDuplicateProgression)
	}
	if err != nil {
		return fmt.Errorf("recording progression %q: %w", p.Key, err)
	}
	return nil
}

// PlotProgression returns one recorded beat by key.
func (s *Store) PlotProgression(ctx context.Context, key string) (*story.PlotProgression, error) {
	var p story.PlotProgression
	err := s.db.QueryRowContext(ctx, `
		SELECT key, chapter_num, scene_num, description
		FROM plot_progressions WHERE key = ?`, key).
		Scan(&p.Key, &p.ChapterNum, &p.SceneNum, &p.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("progression %q: %w", key, story.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying progression: %w", err)
	}
	return &p, nil
}

// HasProgressions reports which of the given keys are already recorded.
func (s *Store) HasProgressions(ctx context.Context, keys []string) (map[string]bool, error) {
	recorded := make(map[string]bool, len(keys))
	for _, key := range keys {
		var one int
		err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM plot_progressions WHERE key = ?`, key).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			recorded[key] = false
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("checking progression %q: %w", key, err)
		}
		recorded[key] = true
	}
	return recorded, nil
}

// LinkSceneEntity associates a character or location with a scene. Present
// involvement wins over an earlier mentioned link.
func (s *Store) LinkSceneEntity(ctx context.Context, e *story.SceneEntity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scene_entities (scene_id, entity_type, entity_slug, involvement)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(scene_id, entity_type, entity_slug) DO UPDATE SET involvement = excluded.involvement
		WHERE excluded.involvement = 'present'`,
		e.SceneID, e.EntityType, e.EntitySlug, string(e.Involvement))
	if err != nil {
		return fmt.Errorf("linking %s %q to scene %d: %w", e.EntityType, e.EntitySlug, e.SceneID, err)
	}
	return nil
}

// SceneEntities groups a scene's linked entities by kind.
type SceneEntities struct {
	Characters []story.SceneEntity `json:"characters"`
	Locations  []story.SceneEntity `json:"locations"`
}

// EntitiesInScene returns the characters and locations linked to a scene.
func (s *Store) EntitiesInScene(ctx context.Context, sceneID int64) (*SceneEntities, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scene_id, entity_type, entity_slug, involvement
		FROM scene_entities WHERE scene_id = ? ORDER BY entity_type, entity_slug`, sceneID)
	if err != nil {
		return nil, fmt.Errorf("querying scene entities: %w", err)
	}
	defer rows.Close()

	var out SceneEntities
	for rows.Next() {
		var e story.SceneEntity
		var involvement string
		if err := rows.Scan(&e.SceneID, &e.EntityType, &e.EntitySlug, &involvement); err != nil {
			return nil, fmt.Errorf("scanning scene entity: %w", err)
		}
		e.Involvement = story.Involvement(involvement)
		if e.EntityType == "location" {
			out.Locations = append(out.Locations, e)
		} else {
			out.Characters = append(out.Characters, e)
		}
	}
	return &out, rows.Err()
}

// SceneInvolvement pairs a scene with how a character participates in it.
type SceneInvolvement struct {
	Scene       story.Scene
	Involvement story.Involvement
}

// ScenesWithCharacter returns every scene the character is present in or
// mentioned by, in story order. The impact analyzer fans out from here.
func (s *Store) ScenesWithCharacter(ctx context.Context, slug string) ([]SceneInvolvement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixedSceneColumns("sc")+`, se.involvement
		FROM scenes sc
		JOIN scene_entities se ON se.scene_id = sc.id
		WHERE se.entity_type = 'character' AND se.entity_slug = ?
		ORDER BY sc.chapter_num, sc.scene_num`, slug)
	if err != nil {
		return nil, fmt.Errorf("querying scenes with character %s: %w", slug, err)
	}
	defer rows.Close()

	var out []SceneInvolvement
	for rows.Next() {
		var sc story.Scene
		var needsRevision int
		var progressions, learnings, characters, forbidden, prereqs, involvement string
		err := rows.Scan(&sc.ID, &sc.ChapterNum, &sc.SceneNum, &sc.Description, &sc.Content,
			&sc.SceneType, &sc.DramaticGoal, &sc.TensionLevel, &sc.Summary, &sc.RevisionCount,
			&needsRevision, &sc.RevisionReason, &progressions, &learnings, &characters,
			&forbidden, &prereqs, &involvement)
		if err != nil {
			return nil, fmt.Errorf("scanning scene involvement: %w", err)
		}
		sc.NeedsRevision = needsRevision != 0
		sc.RequiredProgressions = unmarshalList(progressions)
		sc.RequiredLearnings = unmarshalList(learnings)
		sc.RequiredCharacters = unmarshalList(characters)
		sc.ForbiddenRepetitions = unmarshalList(forbidden)
		sc.Prerequisites = unmarshalList(prereqs)
		out = append(out, SceneInvolvement{Scene: sc, Involvement: story.Involvement(involvement)})
	}
	return out, rows.Err()
}

func prefixedSceneColumns(alias string) string {
	return alias + `.id, ` + alias + `.chapter_num, ` + alias + `.scene_num, ` +
		alias + `.description, ` + alias + `.content, ` + alias + `.scene_type, ` +
		alias + `.dramatic_goal, ` + alias + `.tension_level, ` + alias + `.summary, ` +
		alias + `.revision_count, ` + alias + `.needs_revision, ` + alias + `.revision_reason, ` +
		alias + `.required_progressions, ` + alias + `.required_learnings, ` +
		alias + `.required_characters, ` + alias + `.forbidden_repetitions, ` + alias + `.prerequisites`
}
