package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/vampirenirmal/novelist/internal/agent"
	"github.com/vampirenirmal/novelist/internal/plot"
	"github.com/vampirenirmal/novelist/internal/story"
)

// sceneAnalysis is what the collaborator extracts from a finished scene so
// the derived state (threads, character knowledge, progressions, entity
// links) stays synchronized with the prose.
type sceneAnalysis struct {
	Summary         string                 `json:"summary" jsonschema_description:"Two or three sentences summarizing what happened"`
	ThreadUpdates   []plot.Update          `json:"thread_updates" jsonschema_description:"Plot threads this scene introduced, developed, resolved or abandoned"`
	CharacterStates []characterStateUpdate `json:"character_states" jsonschema_description:"End-of-scene state for each character who appears"`
	Progressions    []progressionHit       `json:"progressions" jsonschema_description:"One-time narrative beats this scene delivered"`
	Characters      []entityRef            `json:"characters" jsonschema_description:"Every character present in or mentioned by the scene"`
	Locations       []string               `json:"locations" jsonschema_description:"Slugs of locations where the scene takes place"`
}

type characterStateUpdate struct {
	Character      string   `json:"character" jsonschema_description:"Character slug"`
	EmotionalState string   `json:"emotional_state"`
	Location       string   `json:"location"`
	Knowledge      []string `json:"knowledge" jsonschema_description:"New facts the character learned this scene"`
	Evolution      string   `json:"evolution" jsonschema_description:"How the character changed, empty if unchanged"`
}

type progressionHit struct {
	Key         string `json:"key" jsonschema_description:"Stable snake_case key for the beat"`
	Description string `json:"description"`
}

type entityRef struct {
	Slug        string `json:"slug"`
	Involvement string `json:"involvement" jsonschema:"enum=present,enum=mentioned"`
}

var analysisSchema = agent.GenerateSchema[sceneAnalysis](
	"scene_analysis", "Derived state extracted from a written scene")

const analysisSystem = "You are indexing a finished scene of a novel. Extract only what the text actually establishes; do not invent developments that did not happen on the page."

func (o *Orchestrator) analyzeScene(ctx context.Context, at story.Coordinate, content string) (*sceneAnalysis, error) {
	var analysis sceneAnalysis
	prompt := fmt.Sprintf("Scene %s:\n\n%s", at, content)
	if err := o.agent.ExecuteStructured(ctx, analysisSystem, prompt, analysisSchema, &analysis); err != nil {
		return nil, fmt.Errorf("analyzing scene %s: %w", at, err)
	}
	return &analysis, nil
}

// persistDerived applies a scene analysis to the store. The registry is
// reloaded, mutated and written back in full; progressions keep their first
// recording on duplicates; terminal threads reject further development.
// Violations of those rules in extracted output are logged and skipped, not
// fatal, because they indicate a collaborator mistake rather than a broken
// run.
func (o *Orchestrator) persistDerived(ctx context.Context, at story.Coordinate, analysis *sceneAnalysis) error {
	registry, err := o.store.LoadRegistry(ctx)
	if err != nil {
		return err
	}
	for _, u := range analysis.ThreadUpdates {
		if err := registry.ApplyUpdate(at, u); err != nil {
			if errors.Is(err, story.ErrThreadTerminal) || errors.Is(err, story.ErrInvalidInput) {
				o.logger.Warn("skipping invalid thread update",
					"at", at.String(), "thread", u.Name, "error", err)
				continue
			}
			return err
		}
	}
	if err := o.store.SaveRegistry(ctx, registry); err != nil {
		return err
	}

	sc, err := o.store.Scene(ctx, at)
	if err != nil {
		return err
	}

	for _, cs := range analysis.CharacterStates {
		// The analysis carries only newly learned facts; knowledge is a
		// running set, so the prior state's facts carry forward into the
		// new row.
		knowledge := cs.Knowledge
		prior, err := o.store.CharacterStateAt(ctx, cs.Character, at)
		if err != nil && !errors.Is(err, story.ErrNotFound) {
			return err
		}
		if prior != nil {
			knowledge = accumulateFacts(prior.Knowledge, cs.Knowledge)
		}
		err = o.store.AppendCharacterState(ctx, &story.CharacterState{
			CharacterSlug:  cs.Character,
			SceneID:        sc.ID,
			EmotionalState: cs.EmotionalState,
			Location:       cs.Location,
			Knowledge:      knowledge,
			Evolution:      cs.Evolution,
		})
		if errors.Is(err, story.ErrInvalidInput) {
			o.logger.Warn("duplicate character state", "at", at.String(), "character", cs.Character)
			continue
		}
		if err != nil {
			return err
		}
	}

	for _, p := range analysis.Progressions {
		err := o.store.RecordPlotProgression(ctx, &story.PlotProgression{
			Key: p.Key, ChapterNum: at.Chapter, SceneNum: at.Scene, Description: p.Description,
		})
		if errors.Is(err, story.ErrDuplicateProgression) {
			// First recording wins.
			o.logger.Warn("progression already recorded elsewhere",
				"at", at.String(), "key", p.Key)
			continue
		}
		if err != nil {
			return err
		}
	}

	for _, ref := range analysis.Characters {
		inv := story.Involvement(ref.Involvement)
		if inv != story.InvolvementPresent {
			inv = story.InvolvementMentioned
		}
		if err := o.store.LinkSceneEntity(ctx, &story.SceneEntity{
			SceneID: sc.ID, EntityType: "character", EntitySlug: ref.Slug, Involvement: inv,
		}); err != nil {
			return err
		}
	}
	for _, slug := range analysis.Locations {
		if err := o.store.LinkSceneEntity(ctx, &story.SceneEntity{
			SceneID: sc.ID, EntityType: "location", EntitySlug: slug, Involvement: story.InvolvementPresent,
		}); err != nil {
			return err
		}
	}
	return nil
}

// accumulateFacts unions known and newly learned facts, keeping first
// occurrence order.
func accumulateFacts(known, learned []string) []string {
	seen := make(map[string]bool, len(known)+len(learned))
	out := make([]string, 0, len(known)+len(learned))
	for _, facts := range [][]string{known, learned} {
		for _, f := range facts {
			if seen[f] {
				continue
			}
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}
