// Package resolver assembles the minimal sufficient context for writing or
// revising one scene, given nothing but its coordinate and the entity store.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"golang.org/x/sync/errgroup"

	"github.com/vampirenirmal/novelist/internal/store"
	"github.com/vampirenirmal/novelist/internal/story"
)

// Limits bound the assembled context so prompt size stays under control.
type Limits struct {
	MaxActiveThreads       int
	MaxElementsPerCategory int
	MaxKnowledgeFacts      int
	TailWords              int
	RecentSceneTypes       int
	OverusedThreshold      int
}

// DefaultLimits are deliberate precision/recall tradeoffs, not tunables the
// pipeline varies at runtime.
func DefaultLimits() Limits {
	return Limits{
		MaxActiveThreads:       5,
		MaxElementsPerCategory: 5,
		MaxKnowledgeFacts:      5,
		TailWords:              300,
		RecentSceneTypes:       3,
		OverusedThreshold:      2,
	}
}

// Resolver gathers scene dependency context from the entity store.
type Resolver struct {
	store  *store.Store
	limits Limits
	logger *slog.Logger
}

// New creates a resolver over the given store.
func New(s *store.Store, limits Limits) *Resolver {
	return &Resolver{
		store:  s,
		limits: limits,
		logger: slog.Default().With("component", "resolver"),
	}
}

// Resolve builds the dependency context for the scene at the coordinate.
// A required character missing from the store is a configuration error,
// surfaced as ErrMissingEntity rather than silently omitted: downstream
// consistency checking depends on completeness.
func (r *Resolver) Resolve(ctx context.Context, at story.Coordinate) (*SceneContext, error) {
	st, err := r.store.Story(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving story: %w", err)
	}
	chapter, err := r.store.Chapter(ctx, at.Chapter)
	if err != nil {
		return nil, fmt.Errorf("resolving chapter: %w", err)
	}
	scene, err := r.store.Scene(ctx, at)
	if err != nil {
		return nil, fmt.Errorf("resolving scene: %w", err)
	}

	sc := &SceneContext{
		Coordinate: at,
		Story: StoryInfo{
			Title:      st.Title,
			Premise:    st.Premise,
			Genre:      st.Genre,
			Tone:       st.Tone,
			Language:   st.Language,
			StyleGuide: st.StyleGuide,
		},
		Chapter: ChapterInfo{Number: chapter.Number, Title: chapter.Title, Outline: chapter.Outline},
		Plan: ScenePlan{
			Description:          scene.Description,
			SceneType:            scene.SceneType,
			DramaticGoal:         scene.DramaticGoal,
			TensionLevel:         scene.TensionLevel,
			RequiredProgressions: scene.RequiredProgressions,
			RequiredLearnings:    scene.RequiredLearnings,
			RequiredCharacters:   scene.RequiredCharacters,
			ForbiddenRepetitions: scene.ForbiddenRepetitions,
		},
	}

	// The sub-queries below only read committed state, so they may run
	// concurrently without violating the sequential-drafting model.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return r.gatherThreads(gctx, sc) })
	g.Go(func() error { return r.gatherCharacters(gctx, sc, scene, at) })
	g.Go(func() error { return r.gatherWorld(gctx, sc, scene.Description) })
	g.Go(func() error { return r.gatherNarrativeContext(gctx, sc, chapter, at) })
	g.Go(func() error { return r.gatherConstraints(gctx, sc, at) })
	g.Go(func() error { return r.checkPrerequisites(gctx, sc, scene.Prerequisites) })

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sc.TokenCount = r.countTokens(sc.Render())
	r.logger.Debug("scene context resolved",
		"at", at.String(),
		"threads", len(sc.ActiveThreads),
		"characters", len(sc.Characters),
		"world_elements", len(sc.WorldElements),
		"tokens", sc.TokenCount)
	return sc, nil
}

func (r *Resolver) gatherThreads(ctx context.Context, sc *SceneContext) error {
	registry, err := r.store.LoadRegistry(ctx)
	if err != nil {
		return fmt.Errorf("loading plot registry: %w", err)
	}
	active := registry.ActiveThreads()
	if len(active) > r.limits.MaxActiveThreads {
		active = active[:r.limits.MaxActiveThreads]
	}
	for _, t := range active {
		sc.ActiveThreads = append(sc.ActiveThreads, threadContext(t))
	}
	return nil
}

func (r *Resolver) gatherCharacters(ctx context.Context, sc *SceneContext, scene *story.Scene, at story.Coordinate) error {
	for _, slug := range scene.RequiredCharacters {
		ch, err := r.store.Character(ctx, slug)
		if errors.Is(err, story.ErrNotFound) {
			return fmt.Errorf("scene %s requires character: %w", at, story.MissingEntity("character", slug))
		}
		if err != nil {
			return err
		}

		cc := CharacterContext{
			Slug:        ch.Slug,
			Name:        ch.Name,
			Role:        ch.Role,
			Backstory:   ch.Backstory,
			Personality: ch.Personality,
		}
		state, err := r.store.CharacterStateAt(ctx, slug, at)
		if err != nil && !errors.Is(err, story.ErrNotFound) {
			return err
		}
		if state != nil {
			cc.EmotionalState = state.EmotionalState
			cc.Location = state.Location
			cc.Knowledge = lastN(state.Knowledge, r.limits.MaxKnowledgeFacts)
		}
		sc.Characters = append(sc.Characters, cc)
	}

	rels, err := r.store.RelationshipsAmong(ctx, scene.RequiredCharacters)
	if err != nil {
		return err
	}
	sc.Relationships = rels
	return nil
}

// gatherWorld selects world elements whose key or value textually overlaps
// the scene description's keywords, capped per category. A deliberate
// precision/recall tradeoff to bound prompt size.
func (r *Resolver) gatherWorld(ctx context.Context, sc *SceneContext, description string) error {
	elements, err := r.store.WorldElements(ctx)
	if err != nil {
		return err
	}
	keywords := keywordSet(description)
	perCategory := make(map[string]int)
	for _, we := range elements {
		if perCategory[we.Category] >= r.limits.MaxElementsPerCategory {
			continue
		}
		if overlaps(we, keywords) {
			sc.WorldElements = append(sc.WorldElements, we)
			perCategory[we.Category]++
		}
	}
	return nil
}

func (r *Resolver) gatherNarrativeContext(ctx context.Context, sc *SceneContext, chapter *story.Chapter, at story.Coordinate) error {
	var prev story.Coordinate
	if at.Scene > 1 {
		prev = story.Coordinate{Chapter: at.Chapter, Scene: at.Scene - 1}
	} else if at.Chapter > 1 {
		// First scene of a chapter continues from the previous chapter's
		// last written scene.
		scenes, err := r.store.ScenesInChapter(ctx, at.Chapter-1)
		if err != nil {
			return err
		}
		if len(scenes) > 0 {
			last := scenes[len(scenes)-1]
			prev = last.Coordinate()
		}
	}
	if prev.Chapter > 0 {
		content, err := r.store.SceneContent(ctx, prev)
		if err != nil && !errors.Is(err, story.ErrNotFound) {
			return err
		}
		sc.PreviousTail = tail(content, r.limits.TailWords)
	}

	// Rolling summary of earlier scenes in the same chapter.
	scenes, err := r.store.ScenesInChapter(ctx, at.Chapter)
	if err != nil {
		return err
	}
	var parts []string
	for _, s := range scenes {
		if s.SceneNum >= at.Scene {
			break
		}
		if s.Summary != "" {
			parts = append(parts, s.Summary)
		}
	}
	if len(parts) == 0 && chapter.Summary != "" {
		parts = append(parts, chapter.Summary)
	}
	sc.ChapterSummary = strings.Join(parts, " ")
	return nil
}

func (r *Resolver) gatherConstraints(ctx context.Context, sc *SceneContext, at story.Coordinate) error {
	scenes, err := r.store.AllScenes(ctx)
	if err != nil {
		return err
	}

	var written []story.Scene
	for _, s := range scenes {
		if s.Coordinate().Before(at) && s.Content != "" {
			written = append(written, s)
		}
	}

	// Recently used scene types, most recent first.
	for i := len(written) - 1; i >= 0 && len(sc.Constraints.RecentSceneTypes) < r.limits.RecentSceneTypes; i-- {
		if t := written[i].SceneType; t != "" {
			sc.Constraints.RecentSceneTypes = append(sc.Constraints.RecentSceneTypes, t)
		}
	}

	// Content reused beyond the threshold across the story is flagged as
	// overused and must not recur.
	counts := make(map[string]int)
	for _, s := range written {
		lower := strings.ToLower(s.Content)
		for _, fact := range s.ForbiddenRepetitions {
			if strings.Contains(lower, strings.ToLower(fact)) {
				counts[fact]++
			}
		}
	}
	for fact, n := range counts {
		if n > r.limits.OverusedThreshold {
			sc.Constraints.OverusedContent = append(sc.Constraints.OverusedContent, fact)
		}
	}
	return nil
}

func (r *Resolver) checkPrerequisites(ctx context.Context, sc *SceneContext, prereqs []string) error {
	if len(prereqs) == 0 {
		return nil
	}
	recorded, err := r.store.HasProgressions(ctx, prereqs)
	if err != nil {
		return err
	}
	for _, key := range prereqs {
		if !recorded[key] {
			sc.UnmetPrerequisites = append(sc.UnmetPrerequisites, key)
		}
	}
	return nil
}

// countTokens estimates context size with the tiktoken encoder, falling back
// to a word-based estimate when the encoding is unavailable. This feeds a
// metric, not a generation decision.
func (r *Resolver) countTokens(text string) int {
	tkm, err := tiktoken.EncodingForModel("gpt-4-0613")
	if err != nil {
		r.logger.Warn("token encoder unavailable, estimating", "error", err)
		return len(strings.Fields(text)) * 4 / 3
	}
	return len(tkm.Encode(text, nil, nil))
}

// tail returns the last n words of text.
func tail(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return strings.TrimSpace(text)
	}
	return strings.Join(words[len(words)-n:], " ")
}

func lastN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

func keywordSet(description string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(description)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if len(w) > 3 {
			set[w] = true
		}
	}
	return set
}

func overlaps(we story.WorldElement, keywords map[string]bool) bool {
	for _, field := range []string{we.Key, we.Value} {
		for _, w := range strings.Fields(strings.ToLower(field)) {
			w = strings.Trim(w, ".,;:!?\"'()_")
			if keywords[w] {
				return true
			}
		}
	}
	// Underscored keys like "magic_system" match on their parts.
	for part := range keywords {
		if strings.Contains(strings.ToLower(we.Key), part) {
			return true
		}
	}
	return false
}
