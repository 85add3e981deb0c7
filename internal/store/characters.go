package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vampirenirmal/novelist/internal/story"
)

// CreateCharacter inserts a new character. The slug is its immutable
// identity.
func (s *Store) CreateCharacter(ctx context.Context, c *story.Character) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO characters (slug, name, role, backstory, personality)
		VALUES (?, ?, ?, ?, ?)`,
		c.Slug, c.Name, c.Role, c.Backstory, c.Personality)
	if isUniqueViolation(err) {
		return fmt.Errorf("character %q already exists: %w", c.Slug, story.ErrInvalidInput)
	}
	if err != nil {
		return fmt.Errorf("inserting character %s: %w", c.Slug, err)
	}
	return nil
}

// Character returns one character by slug.
func (s *Store) Character(ctx context.Context, slug string) (*story.Character, error) {
	var c story.Character
	err := s.db.QueryRowContext(ctx, `
		SELECT slug, name, role, backstory, personality
		FROM characters WHERE slug = ?`, slug).
		Scan(&c.Slug, &c.Name, &c.Role, &c.Backstory, &c.Personality)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("character %q: %w", slug, story.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying character: %w", err)
	}
	return &c, nil
}

// Characters returns every character ordered by slug.
func (s *Store) Characters(ctx context.Context) ([]story.Character, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slug, name, role, backstory, personality
		FROM characters ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("querying characters: %w", err)
	}
	defer rows.Close()

	var chars []story.Character
	for rows.Next() {
		var c story.Character
		if err := rows.Scan(&c.Slug, &c.Name, &c.Role, &c.Backstory, &c.Personality); err != nil {
			return nil, fmt.Errorf("scanning character: %w", err)
		}
		chars = append(chars, c)
	}
	return chars, rows.Err()
}

// CharacterChanges describes an edit to a character's descriptive fields.
// Nil fields are left untouched; the slug can never change.
type CharacterChanges struct {
	Name        *string
	Role        *string
	Backstory   *string
	Personality *string
}

// IdentityAltering reports whether the change touches fields that redefine
// who the character is, which drives revision priority.
func (c CharacterChanges) IdentityAltering() bool {
	return c.Name != nil || c.Backstory != nil || c.Personality != nil
}

// UpdateCharacter applies changes to a character, replacing only the fields
// that are set.
func (s *Store) UpdateCharacter(ctx context.Context, slug string, changes CharacterChanges) error {
	current, err := s.Character(ctx, slug)
	if err != nil {
		return err
	}
	if changes.Name != nil {
		current.Name = *changes.Name
	}
	if changes.Role != nil {
		current.Role = *changes.Role
	}
	if changes.Backstory != nil {
		current.Backstory = *changes.Backstory
	}
	if changes.Personality != nil {
		current.Personality = *changes.Personality
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE characters SET name = ?, role = ?, backstory = ?, personality = ?
		WHERE slug = ?`,
		current.Name, current.Role, current.Backstory, current.Personality, slug)
	if err != nil {
		return fmt.Errorf("updating character %s: %w", slug, err)
	}
	return nil
}

// AppendCharacterState records a character's state at a scene. One row per
// (character, scene) pair; rows are never overwritten in place.
func (s *Store) AppendCharacterState(ctx context.Context, st *story.CharacterState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO character_states (character_slug, scene_id, emotional_state, location, knowledge, evolution)
		VALUES (?, ?, ?, ?, ?, ?)`,
		st.CharacterSlug, st.SceneID, st.EmotionalState, st.Location,
		marshalList(st.Knowledge), st.Evolution)
	if isUniqueViolation(err) {
		return fmt.Errorf("state for %s at scene %d already recorded: %w",
			st.CharacterSlug, st.SceneID, story.ErrInvalidInput)
	}
	if err != nil {
		return fmt.Errorf("inserting character state: %w", err)
	}
	return nil
}

// CharacterStateAt returns the most recent state of a character at or before
// the given coordinate, in story order.
func (s *Store) CharacterStateAt(ctx context.Context, slug string, at story.Coordinate) (*story.CharacterState, error) {
	var st story.CharacterState
	var knowledge string
	err := s.db.QueryRowContext(ctx, `
		SELECT cs.character_slug, cs.scene_id, cs.emotional_state, cs.location, cs.knowledge, cs.evolution, cs.recorded_at
		FROM character_states cs
		JOIN scenes sc ON sc.id = cs.scene_id
		WHERE cs.character_slug = ?
		  AND (sc.chapter_num < ? OR (sc.chapter_num = ? AND sc.scene_num <= ?))
		ORDER BY sc.chapter_num DESC, sc.scene_num DESC
		LIMIT 1`,
		slug, at.Chapter, at.Chapter, at.Scene).
		Scan(&st.CharacterSlug, &st.SceneID, &st.EmotionalState, &st.Location,
			&knowledge, &st.Evolution, &st.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("state for %q before %s: %w", slug, at, story.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying character state: %w", err)
	}
	st.Knowledge = unmarshalList(knowledge)
	return &st, nil
}

// CharacterStatesAtScene returns every character state recorded for one
// scene, ordered by character.
func (s *Store) CharacterStatesAtScene(ctx context.Context, sceneID int64) ([]story.CharacterState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT character_slug, scene_id, emotional_state, location, knowledge, evolution, recorded_at
		FROM character_states WHERE scene_id = ? ORDER BY character_slug`, sceneID)
	if err != nil {
		return nil, fmt.Errorf("querying states at scene %d: %w", sceneID, err)
	}
	defer rows.Close()

	var states []story.CharacterState
	for rows.Next() {
		var st story.CharacterState
		var knowledge string
		if err := rows.Scan(&st.CharacterSlug, &st.SceneID, &st.EmotionalState,
			&st.Location, &knowledge, &st.Evolution, &st.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning character state: %w", err)
		}
		st.Knowledge = unmarshalList(knowledge)
		states = append(states, st)
	}
	return states, rows.Err()
}

// normalizePair orders an unordered character pair so (a,b) and (b,a) land
// on the same row.
func normalizePair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// CreateRelationship inserts the relationship edge for an unordered pair.
// A second insert for the same pair is rejected as a duplicate.
func (s *Store) CreateRelationship(ctx context.Context, r *story.Relationship) error {
	a, b := normalizePair(r.CharacterA, r.CharacterB)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relationships (character_a, character_b, type, description)
		VALUES (?, ?, ?, ?)`, a, b, r.Type, r.Description)
	if isUniqueViolation(err) {
		return fmt.Errorf("relationship %s-%s: %w", a, b, story.ErrDuplicateRelationship)
	}
	if err != nil {
		return fmt.Errorf("inserting relationship: %w", err)
	}
	return nil
}

// UpdateRelationship replaces the type and description of an existing pair.
func (s *Store) UpdateRelationship(ctx context.Context, r *story.Relationship) error {
	a, b := normalizePair(r.CharacterA, r.CharacterB)
	res, err := s.db.ExecContext(ctx, `
		UPDATE relationships SET type = ?, description = ?
		WHERE character_a = ? AND character_b = ?`, r.Type, r.Description, a, b)
	if err != nil {
		return fmt.Errorf("updating relationship: %w", err)
	}
	return requireRow(res, fmt.Sprintf("relationship %s-%s", a, b))
}

// RelationshipsAmong returns the relationship edges whose both endpoints are
// in the given slug set. The resolver uses this to avoid hauling the full
// relationship graph into every scene context.
func (s *Store) RelationshipsAmong(ctx context.Context, slugs []string) ([]story.Relationship, error) {
	if len(slugs) < 2 {
		return nil, nil
	}
	in := make(map[string]bool, len(slugs))
	for _, slug := range slugs {
		in[slug] = true
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT character_a, character_b, type, description
		FROM relationships ORDER BY character_a, character_b`)
	if err != nil {
		return nil, fmt.Errorf("querying relationships: %w", err)
	}
	defer rows.Close()

	var rels []story.Relationship
	for rows.Next() {
		var r story.Relationship
		if err := rows.Scan(&r.CharacterA, &r.CharacterB, &r.Type, &r.Description); err != nil {
			return nil, fmt.Errorf("scanning relationship: %w", err)
		}
		if in[r.CharacterA] && in[r.CharacterB] {
			rels = append(rels, r)
		}
	}
	return rels, rows.Err()
}
