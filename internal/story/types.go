package story

import (
	"fmt"
	"time"
)

// ThreadStatus tracks the lifecycle of a plot thread.
type ThreadStatus string

const (
	ThreadIntroduced ThreadStatus = "introduced"
	ThreadDeveloped  ThreadStatus = "developed"
	ThreadResolved   ThreadStatus = "resolved"
	ThreadAbandoned  ThreadStatus = "abandoned"
)

// Terminal reports whether the status permits no further development.
func (s ThreadStatus) Terminal() bool {
	return s == ThreadResolved || s == ThreadAbandoned
}

// ThreadImportance ranks how central a thread is to the story.
type ThreadImportance string

const (
	ImportanceMajor      ThreadImportance = "major"
	ImportanceMinor      ThreadImportance = "minor"
	ImportanceBackground ThreadImportance = "background"
)

// Rank orders importances for sorting, lower is more important.
func (i ThreadImportance) Rank() int {
	switch i {
	case ImportanceMajor:
		return 0
	case ImportanceMinor:
		return 1
	default:
		return 2
	}
}

// Involvement describes how an entity participates in a scene.
type Involvement string

const (
	InvolvementPresent   Involvement = "present"
	InvolvementMentioned Involvement = "mentioned"
)

// Coordinate locates a scene within the story as (chapter, scene).
type Coordinate struct {
	Chapter int `json:"chapter"`
	Scene   int `json:"scene"`
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%d,%d)", c.Chapter, c.Scene)
}

// Before reports whether c occurs strictly earlier in story order than other.
func (c Coordinate) Before(other Coordinate) bool {
	if c.Chapter != other.Chapter {
		return c.Chapter < other.Chapter
	}
	return c.Scene < other.Scene
}

// Story is the root aggregate, one per generation run.
type Story struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Premise    string    `json:"premise"`
	Genre      string    `json:"genre"`
	Tone       string    `json:"tone"`
	Language   string    `json:"language"`
	Structure  string    `json:"structure"`
	StyleGuide string    `json:"style_guide"`
	Outline    string    `json:"outline"`
	Completed  bool      `json:"completed"`
	CreatedAt  time.Time `json:"created_at"`
}

// Character holds the static profile of a character. The slug is immutable
// once created; descriptive fields may be edited.
type Character struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	Backstory   string `json:"backstory"`
	Personality string `json:"personality"`
}

// CharacterState is the point-in-time state of a character, versioned per
// scene. Rows are appended, never overwritten, so history stays
// reconstructable.
type CharacterState struct {
	CharacterSlug  string    `json:"character_slug"`
	SceneID        int64     `json:"scene_id"`
	EmotionalState string    `json:"emotional_state"`
	Location       string    `json:"location"`
	Knowledge      []string  `json:"knowledge"`
	Evolution      string    `json:"evolution"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// Relationship is an undirected edge between two characters. At most one row
// exists per unordered pair.
type Relationship struct {
	CharacterA  string `json:"character_a"`
	CharacterB  string `json:"character_b"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Location is a descriptive world fact, largely static after creation.
type Location struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// WorldElement is a category/key/value world fact, e.g.
// category="magic", key="magic_system".
type WorldElement struct {
	Category string `json:"category"`
	Key      string `json:"key"`
	Value    string `json:"value"`
}

// Chapter carries its 1-based sequence number, which must stay contiguous.
type Chapter struct {
	ID      int64  `json:"id"`
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Outline string `json:"outline"`
	Summary string `json:"summary"`
}

// Scene is one unit of narrative, keyed by (chapter, scene_number) within
// its chapter. Planning metadata is set at chapter-planning time and
// consumed when the scene is written or revised.
type Scene struct {
	ID             int64  `json:"id"`
	ChapterNum     int    `json:"chapter_num"`
	SceneNum       int    `json:"scene_num"`
	Description    string `json:"description"`
	Content        string `json:"content"`
	SceneType      string `json:"scene_type"`
	DramaticGoal   string `json:"dramatic_goal"`
	TensionLevel   int    `json:"tension_level"`
	Summary        string `json:"summary"`
	RevisionCount  int    `json:"revision_count"`
	NeedsRevision  bool   `json:"needs_revision"`
	RevisionReason string `json:"revision_reason"`

	// Planning metadata.
	RequiredProgressions []string `json:"required_progressions"`
	RequiredLearnings    []string `json:"required_learnings"`
	RequiredCharacters   []string `json:"required_characters"`
	ForbiddenRepetitions []string `json:"forbidden_repetitions"`
	Prerequisites        []string `json:"prerequisites"`
}

// Coordinate returns the scene's position in story order.
func (s *Scene) Coordinate() Coordinate {
	return Coordinate{Chapter: s.ChapterNum, Scene: s.SceneNum}
}

// PlotProgression records a one-time narrative beat. A key may be recorded
// at most once per story; a second recording is an authoring error.
type PlotProgression struct {
	Key         string `json:"key"`
	ChapterNum  int    `json:"chapter_num"`
	SceneNum    int    `json:"scene_num"`
	Description string `json:"description"`
}

// SceneEntity links a scene to a character or location with an involvement
// type.
type SceneEntity struct {
	SceneID     int64       `json:"scene_id"`
	EntityType  string      `json:"entity_type"` // "character" or "location"
	EntitySlug  string      `json:"entity_slug"`
	Involvement Involvement `json:"involvement"`
}

// SceneRevision is one entry in a scene's revision audit trail.
type SceneRevision struct {
	SceneID    int64     `json:"scene_id"`
	Revision   int       `json:"revision"`
	Reason     string    `json:"reason"`
	Issues     []string  `json:"issues"`
	RevisedAt  time.Time `json:"revised_at"`
}
