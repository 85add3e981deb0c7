package plot

import (
	"fmt"

	"github.com/vampirenirmal/novelist/internal/story"
)

// Development is one entry in a thread's ordered development history.
type Development struct {
	Chapter       int    `json:"chapter"`
	Scene         int    `json:"scene"`
	Description   string `json:"description"`
	IsResolution  bool   `json:"is_resolution"`
	IsAbandonment bool   `json:"is_abandonment"`
}

// Thread is a trackable narrative throughline spanning multiple scenes.
// FirstChapter/FirstScene are set at creation and never altered;
// LastChapter/LastScene advance with every development, resolution or
// abandonment.
type Thread struct {
	Name              string                 `json:"name"`
	Description       string                 `json:"description"`
	Importance        story.ThreadImportance `json:"importance"`
	Status            story.ThreadStatus     `json:"status"`
	FirstChapter      int                    `json:"first_chapter"`
	FirstScene        int                    `json:"first_scene"`
	LastChapter       int                    `json:"last_chapter"`
	LastScene         int                    `json:"last_scene"`
	RelatedCharacters []string               `json:"related_characters"`
	Developments      []Development          `json:"developments"`
}

// NewThread creates a thread introduced at the given coordinate.
func NewThread(name, description string, importance story.ThreadImportance, at story.Coordinate) *Thread {
	return &Thread{
		Name:         name,
		Description:  description,
		Importance:   importance,
		Status:       story.ThreadIntroduced,
		FirstChapter: at.Chapter,
		FirstScene:   at.Scene,
		LastChapter:  at.Chapter,
		LastScene:    at.Scene,
	}
}

// Active reports whether the thread still accepts developments.
func (t *Thread) Active() bool {
	return !t.Status.Terminal()
}

// AddDevelopment appends a development at the given coordinate. The first
// development promotes an introduced thread to developed. A resolved or
// abandoned thread rejects further developments.
func (t *Thread) AddDevelopment(at story.Coordinate, description string) error {
	if t.Status.Terminal() {
		return fmt.Errorf("thread %q: %w", t.Name, story.ErrThreadTerminal)
	}
	t.Developments = append(t.Developments, Development{
		Chapter:     at.Chapter,
		Scene:       at.Scene,
		Description: description,
	})
	if t.Status == story.ThreadIntroduced {
		t.Status = story.ThreadDeveloped
	}
	t.advance(at)
	return nil
}

// Resolve marks the thread resolved at the given coordinate. Terminal.
func (t *Thread) Resolve(at story.Coordinate, description string) error {
	return t.terminate(at, description, story.ThreadResolved)
}

// Abandon marks the thread abandoned at the given coordinate. Terminal.
func (t *Thread) Abandon(at story.Coordinate, description string) error {
	return t.terminate(at, description, story.ThreadAbandoned)
}

func (t *Thread) terminate(at story.Coordinate, description string, status story.ThreadStatus) error {
	if t.Status.Terminal() {
		return fmt.Errorf("thread %q: %w", t.Name, story.ErrThreadTerminal)
	}
	t.Developments = append(t.Developments, Development{
		Chapter:       at.Chapter,
		Scene:         at.Scene,
		Description:   description,
		IsResolution:  status == story.ThreadResolved,
		IsAbandonment: status == story.ThreadAbandoned,
	})
	t.Status = status
	t.advance(at)
	return nil
}

func (t *Thread) advance(at story.Coordinate) {
	t.LastChapter = at.Chapter
	t.LastScene = at.Scene
}

// LastDevelopedAt returns the coordinate of the most recent development.
func (t *Thread) LastDevelopedAt() story.Coordinate {
	return story.Coordinate{Chapter: t.LastChapter, Scene: t.LastScene}
}

// RelatesTo reports whether the character slug is tied to this thread.
func (t *Thread) RelatesTo(slug string) bool {
	for _, s := range t.RelatedCharacters {
		if s == slug {
			return true
		}
	}
	return false
}

// AddRelatedCharacter records a participant, ignoring duplicates.
func (t *Thread) AddRelatedCharacter(slug string) {
	if slug == "" || t.RelatesTo(slug) {
		return
	}
	t.RelatedCharacters = append(t.RelatedCharacters, slug)
}
