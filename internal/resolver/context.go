package resolver

import (
	"fmt"
	"strings"

	"github.com/vampirenirmal/novelist/internal/plot"
	"github.com/vampirenirmal/novelist/internal/story"
)

// SceneContext is the complete, bounded bundle of prior-state facts needed
// to write or revise one scene. It is assembled deterministically from the
// store, never from an LLM call.
type SceneContext struct {
	Coordinate story.Coordinate `json:"coordinate"`

	Story   StoryInfo   `json:"story"`
	Chapter ChapterInfo `json:"chapter"`
	Plan    ScenePlan   `json:"plan"`

	ActiveThreads []ThreadContext    `json:"active_threads"`
	Characters    []CharacterContext `json:"characters"`
	Relationships []story.Relationship `json:"relationships"`
	WorldElements []story.WorldElement `json:"world_elements"`

	PreviousTail   string `json:"previous_tail"`
	ChapterSummary string `json:"chapter_summary"`

	Constraints WritingConstraints `json:"constraints"`

	// UnmetPrerequisites lists prerequisite progression keys not yet
	// recorded anywhere in the story. Reported, not fatal.
	UnmetPrerequisites []string `json:"unmet_prerequisites"`

	// TokenCount estimates the size of the rendered context.
	TokenCount int `json:"token_count"`
}

// StoryInfo carries the story-level premise fields.
type StoryInfo struct {
	Title      string `json:"title"`
	Premise    string `json:"premise"`
	Genre      string `json:"genre"`
	Tone       string `json:"tone"`
	Language   string `json:"language"`
	StyleGuide string `json:"style_guide"`
}

// ChapterInfo carries the enclosing chapter's title and outline.
type ChapterInfo struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Outline string `json:"outline"`
}

// ScenePlan is the scene's own planning metadata.
type ScenePlan struct {
	Description          string   `json:"description"`
	SceneType            string   `json:"scene_type"`
	DramaticGoal         string   `json:"dramatic_goal"`
	TensionLevel         int      `json:"tension_level"`
	RequiredProgressions []string `json:"required_progressions"`
	RequiredLearnings    []string `json:"required_learnings"`
	RequiredCharacters   []string `json:"required_characters"`
	ForbiddenRepetitions []string `json:"forbidden_repetitions"`
}

// ThreadContext summarizes one active plot thread for the prompt.
type ThreadContext struct {
	Name            string                 `json:"name"`
	Description     string                 `json:"description"`
	Importance      story.ThreadImportance `json:"importance"`
	Status          story.ThreadStatus     `json:"status"`
	LastDevelopment string                 `json:"last_development"`
}

func threadContext(t *plot.Thread) ThreadContext {
	tc := ThreadContext{
		Name:        t.Name,
		Description: t.Description,
		Importance:  t.Importance,
		Status:      t.Status,
	}
	if n := len(t.Developments); n > 0 {
		tc.LastDevelopment = t.Developments[n-1].Description
	}
	return tc
}

// CharacterContext is the full context for one required character.
type CharacterContext struct {
	Slug           string   `json:"slug"`
	Name           string   `json:"name"`
	Role           string   `json:"role"`
	Backstory      string   `json:"backstory"`
	Personality    string   `json:"personality"`
	EmotionalState string   `json:"emotional_state"`
	Location       string   `json:"location"`
	Knowledge      []string `json:"knowledge"`
}

// WritingConstraints penalize repetition across the story.
type WritingConstraints struct {
	RecentSceneTypes []string `json:"recent_scene_types"`
	OverusedContent  []string `json:"overused_content"`
}

// Render flattens the context into a deterministic prompt section. Used for
// prose generation and for token accounting.
func (c *SceneContext) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "STORY: %s\nGenre: %s. Tone: %s. Language: %s.\n", c.Story.Title, c.Story.Genre, c.Story.Tone, c.Story.Language)
	if c.Story.Premise != "" {
		fmt.Fprintf(&b, "Premise: %s\n", c.Story.Premise)
	}
	if c.Story.StyleGuide != "" {
		fmt.Fprintf(&b, "Style: %s\n", c.Story.StyleGuide)
	}

	fmt.Fprintf(&b, "\nCHAPTER %d: %s\n%s\n", c.Chapter.Number, c.Chapter.Title, c.Chapter.Outline)
	fmt.Fprintf(&b, "\nSCENE %s: %s\nType: %s. Dramatic goal: %s. Tension: %d/10.\n",
		c.Coordinate, c.Plan.Description, c.Plan.SceneType, c.Plan.DramaticGoal, c.Plan.TensionLevel)

	writeList := func(header string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "%s\n", header)
		for _, item := range items {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}
	writeList("\nMUST OCCUR:", c.Plan.RequiredProgressions)
	writeList("\nCHARACTERS MUST LEARN:", c.Plan.RequiredLearnings)
	writeList("\nMUST NOT RECUR:", c.Plan.ForbiddenRepetitions)

	if len(c.ActiveThreads) > 0 {
		b.WriteString("\nACTIVE PLOT THREADS:\n")
		for _, t := range c.ActiveThreads {
			fmt.Fprintf(&b, "- [%s] %s: %s", t.Importance, t.Name, t.Description)
			if t.LastDevelopment != "" {
				fmt.Fprintf(&b, " (last: %s)", t.LastDevelopment)
			}
			b.WriteString("\n")
		}
	}

	for _, ch := range c.Characters {
		fmt.Fprintf(&b, "\nCHARACTER %s (%s): %s\nPersonality: %s\n", ch.Name, ch.Role, ch.Backstory, ch.Personality)
		if ch.EmotionalState != "" {
			fmt.Fprintf(&b, "Currently: %s, at %s\n", ch.EmotionalState, ch.Location)
		}
		writeList("Knows:", ch.Knowledge)
	}

	if len(c.Relationships) > 0 {
		b.WriteString("\nRELATIONSHIPS:\n")
		for _, r := range c.Relationships {
			fmt.Fprintf(&b, "- %s & %s: %s (%s)\n", r.CharacterA, r.CharacterB, r.Type, r.Description)
		}
	}

	if len(c.WorldElements) > 0 {
		b.WriteString("\nWORLD:\n")
		for _, w := range c.WorldElements {
			fmt.Fprintf(&b, "- %s/%s: %s\n", w.Category, w.Key, w.Value)
		}
	}

	if c.ChapterSummary != "" {
		fmt.Fprintf(&b, "\nEARLIER IN THIS CHAPTER:\n%s\n", c.ChapterSummary)
	}
	if c.PreviousTail != "" {
		fmt.Fprintf(&b, "\nPREVIOUS SCENE ENDS:\n...%s\n", c.PreviousTail)
	}

	writeList("\nAVOID REPEATING SCENE TYPES:", c.Constraints.RecentSceneTypes)
	writeList("\nOVERUSED, DO NOT REUSE:", c.Constraints.OverusedContent)

	return b.String()
}
