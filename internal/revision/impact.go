// Package revision propagates entity changes back into already-written
// scenes. The impact analyzer computes which scenes a change invalidates
// and how urgently; the cascade executor drives the bounded rewrites.
package revision

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/vampirenirmal/novelist/internal/store"
	"github.com/vampirenirmal/novelist/internal/story"
)

// Candidate is one scene flagged for revision, with the priority and the
// reason the analyzer assigned.
type Candidate struct {
	Scene    story.Scene
	Priority int
	Reason   string
}

// Priority components. An identity change to a character the reader has
// watched on the page outranks everything else.
const (
	priorityIdentity  = 10
	priorityCosmetic  = 5
	bonusPresent      = 5
	bonusNameInText   = 3
	priorityResolved  = 10
	priorityDeveloped = 5
	priorityWorld     = 3
)

// majorCategories are the world-element categories whose edits ripple
// widely enough to warrant a systematic review. Changes to other
// categories are assumed localized.
var majorCategories = map[string]bool{
	"magic":      true,
	"technology": true,
	"politics":   true,
	"geography":  true,
}

// worldSampleSize bounds how many scenes a world-element change flags.
// No text matching is done for world edits, so the sample is a
// conservative sweep of the story's opening, where world rules are
// usually established.
const worldSampleSize = 10

// Analyzer maps entity mutations onto the scenes that depend on them.
type Analyzer struct {
	store  *store.Store
	logger *slog.Logger
}

// NewAnalyzer creates an impact analyzer over the given store.
func NewAnalyzer(s *store.Store) *Analyzer {
	return &Analyzer{
		store:  s,
		logger: slog.Default().With("component", "revision"),
	}
}

// CharacterChange returns the written scenes invalidated by an edit to a
// character. oldName is the character's name before the change; it is only
// consulted when the change renames the character.
func (a *Analyzer) CharacterChange(ctx context.Context, slug, oldName string, changes store.CharacterChanges) ([]Candidate, error) {
	involvements, err := a.store.ScenesWithCharacter(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("finding scenes with %s: %w", slug, err)
	}

	base := priorityCosmetic
	reason := fmt.Sprintf("character %q was edited", slug)
	if changes.IdentityAltering() {
		base = priorityIdentity
		reason = fmt.Sprintf("identity-altering change to character %q", slug)
	}
	renamed := changes.Name != nil && oldName != ""

	var out []Candidate
	for _, inv := range involvements {
		if inv.Scene.Content == "" {
			continue
		}
		c := Candidate{Scene: inv.Scene, Priority: base, Reason: reason}
		if inv.Involvement == story.InvolvementPresent {
			c.Priority += bonusPresent
		}
		if renamed && strings.Contains(inv.Scene.Content, oldName) {
			c.Priority += bonusNameInText
			c.Reason = fmt.Sprintf("%s; old name %q appears in the text", reason, oldName)
		}
		out = append(out, c)
	}

	sortCandidates(out)
	a.logger.Info("character change analyzed",
		"character", slug, "candidates", len(out), "identity", changes.IdentityAltering())
	return out, nil
}

// ThreadChange returns the written scenes carrying a development of the
// thread. A resolution is assumed to ripple further than an incremental
// development.
func (a *Analyzer) ThreadChange(ctx context.Context, threadName string, newStatus story.ThreadStatus) ([]Candidate, error) {
	coords, err := a.store.ScenesWithThreadDevelopment(ctx, threadName)
	if err != nil {
		return nil, fmt.Errorf("finding scenes developing %q: %w", threadName, err)
	}

	priority := priorityDeveloped
	if newStatus == story.ThreadResolved {
		priority = priorityResolved
	}
	reason := fmt.Sprintf("plot thread %q changed to %s", threadName, newStatus)

	var out []Candidate
	for _, at := range coords {
		sc, err := a.store.Scene(ctx, at)
		if err != nil {
			return nil, err
		}
		if sc.Content == "" {
			continue
		}
		out = append(out, Candidate{Scene: *sc, Priority: priority, Reason: reason})
	}

	sortCandidates(out)
	a.logger.Info("thread change analyzed",
		"thread", threadName, "status", string(newStatus), "candidates", len(out))
	return out, nil
}

// WorldChange returns revision candidates for a world-element edit. Only
// the major categories trigger any candidates at all.
func (a *Analyzer) WorldChange(ctx context.Context, category, key string) ([]Candidate, error) {
	if !majorCategories[category] {
		a.logger.Debug("world change in minor category, no cascade",
			"category", category, "key", key)
		return nil, nil
	}

	scenes, err := a.store.AllScenes(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing scenes for world change: %w", err)
	}
	reason := fmt.Sprintf("world element %s/%s changed", category, key)

	var out []Candidate
	for _, sc := range scenes {
		if sc.Content == "" {
			continue
		}
		out = append(out, Candidate{Scene: sc, Priority: priorityWorld, Reason: reason})
		if len(out) == worldSampleSize {
			break
		}
	}
	a.logger.Info("world change analyzed",
		"category", category, "key", key, "candidates", len(out))
	return out, nil
}

// sortCandidates orders by priority descending, then story order, so the
// highest-impact earliest scenes are revised first.
func sortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Priority != cs[j].Priority {
			return cs[i].Priority > cs[j].Priority
		}
		return cs[i].Scene.Coordinate().Before(cs[j].Scene.Coordinate())
	})
}
