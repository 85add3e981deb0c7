package orchestrator

import (
	"context"
	"fmt"

	"github.com/vampirenirmal/novelist/internal/agent"
	"github.com/vampirenirmal/novelist/internal/story"
)

// Planning output structures. Each is extracted from the collaborator as a
// structured response, then persisted through the store.

type outlinePlan struct {
	Title   string   `json:"title" jsonschema_description:"Final story title"`
	Outline string   `json:"outline" jsonschema_description:"Full narrative outline from opening to ending"`
	Themes  []string `json:"themes" jsonschema_description:"Central themes"`
}

type worldPlan struct {
	Elements  []story.WorldElement `json:"elements" jsonschema_description:"World rules as category/key/value facts. Categories: magic, technology, politics, geography, culture"`
	Locations []story.Location     `json:"locations" jsonschema_description:"Named places the story visits"`
}

type characterPlan struct {
	Characters    []story.Character    `json:"characters" jsonschema_description:"The story's cast. Slugs are lowercase identifiers and never change"`
	Relationships []story.Relationship `json:"relationships" jsonschema_description:"Edges between characters, by slug"`
}

type plannedScene struct {
	Description          string   `json:"description" jsonschema_description:"What happens in the scene"`
	SceneType            string   `json:"scene_type" jsonschema_description:"e.g. action, dialogue, reflection, revelation"`
	DramaticGoal         string   `json:"dramatic_goal" jsonschema_description:"What the scene must accomplish dramatically"`
	TensionLevel         int      `json:"tension_level" jsonschema:"minimum=1,maximum=10" jsonschema_description:"Tension 1-10"`
	RequiredCharacters   []string `json:"required_characters" jsonschema_description:"Slugs of characters who must appear"`
	RequiredProgressions []string `json:"required_progressions" jsonschema_description:"Keys of one-time narrative beats this scene must deliver"`
	RequiredLearnings    []string `json:"required_learnings" jsonschema_description:"Facts characters must learn in this scene"`
	ForbiddenRepetitions []string `json:"forbidden_repetitions" jsonschema_description:"Beats or reveals this scene must not repeat"`
	Prerequisites        []string `json:"prerequisites" jsonschema_description:"Progression keys that must already have happened before this scene"`
}

type plannedChapter struct {
	Title   string         `json:"title"`
	Outline string         `json:"outline" jsonschema_description:"What the chapter covers"`
	Scenes  []plannedScene `json:"scenes" jsonschema_description:"The chapter's scenes in order"`
}

type chapterPlan struct {
	Chapters []plannedChapter `json:"chapters" jsonschema_description:"All chapters in story order"`
}

var (
	outlineSchema = agent.GenerateSchema[outlinePlan](
		"story_outline", "Title, outline and themes for the story")
	worldSchema = agent.GenerateSchema[worldPlan](
		"world_plan", "World-building facts and locations")
	characterSchema = agent.GenerateSchema[characterPlan](
		"character_plan", "Cast and relationships")
	chapterSchema = agent.GenerateSchema[chapterPlan](
		"chapter_plan", "Chapter and scene breakdown")
)

const planSystem = "You are a novelist planning a book. Be concrete and internally consistent; every fact you invent here is binding for the whole story."

// plan runs the four planning extractions and persists their output.
// Chapter and scene numbering is normalized to contiguous 1-based sequences
// regardless of what the collaborator claims.
func (o *Orchestrator) plan(ctx context.Context, st *story.Story) error {
	premise := fmt.Sprintf("Title: %s\nGenre: %s\nTone: %s\nPremise: %s",
		st.Title, st.Genre, st.Tone, st.Premise)

	var outline outlinePlan
	if err := o.agent.ExecuteStructured(ctx, planSystem,
		"Develop the premise into a full outline.\n\n"+premise,
		outlineSchema, &outline); err != nil {
		return fmt.Errorf("outlining: %w", err)
	}
	title := outline.Title
	if title == "" {
		title = st.Title
	}
	if err := o.store.UpdateStoryOutline(ctx, title, outline.Outline); err != nil {
		return err
	}

	var world worldPlan
	if err := o.agent.ExecuteStructured(ctx, planSystem,
		fmt.Sprintf("Establish the world rules and locations.\n\n%s\n\nOutline:\n%s", premise, outline.Outline),
		worldSchema, &world); err != nil {
		return fmt.Errorf("world building: %w", err)
	}
	for _, el := range world.Elements {
		if err := o.store.PutWorldElement(ctx, el); err != nil {
			return err
		}
	}
	for _, loc := range world.Locations {
		if err := o.store.PutLocation(ctx, loc); err != nil {
			return err
		}
	}

	var cast characterPlan
	if err := o.agent.ExecuteStructured(ctx, planSystem,
		fmt.Sprintf("Create the cast.\n\n%s\n\nOutline:\n%s", premise, outline.Outline),
		characterSchema, &cast); err != nil {
		return fmt.Errorf("casting: %w", err)
	}
	for i := range cast.Characters {
		if err := o.store.CreateCharacter(ctx, &cast.Characters[i]); err != nil {
			return err
		}
	}
	for i := range cast.Relationships {
		if err := o.store.CreateRelationship(ctx, &cast.Relationships[i]); err != nil {
			return err
		}
	}

	var plan chapterPlan
	if err := o.agent.ExecuteStructured(ctx, planSystem,
		fmt.Sprintf("Break the story into chapters and scenes.\n\n%s\n\nOutline:\n%s", premise, outline.Outline),
		chapterSchema, &plan); err != nil {
		return fmt.Errorf("chapter planning: %w", err)
	}
	if len(plan.Chapters) == 0 {
		return fmt.Errorf("chapter planning: empty plan: %w", story.ErrInvalidInput)
	}
	for ci, pc := range plan.Chapters {
		ch := &story.Chapter{Number: ci + 1, Title: pc.Title, Outline: pc.Outline}
		if err := o.store.CreateChapter(ctx, ch); err != nil {
			return err
		}
		for si, ps := range pc.Scenes {
			sc := &story.Scene{
				ChapterNum:           ch.Number,
				SceneNum:             si + 1,
				Description:          ps.Description,
				SceneType:            ps.SceneType,
				DramaticGoal:         ps.DramaticGoal,
				TensionLevel:         ps.TensionLevel,
				RequiredCharacters:   ps.RequiredCharacters,
				RequiredProgressions: ps.RequiredProgressions,
				RequiredLearnings:    ps.RequiredLearnings,
				ForbiddenRepetitions: ps.ForbiddenRepetitions,
				Prerequisites:        ps.Prerequisites,
			}
			if err := o.store.CreateScene(ctx, sc); err != nil {
				return err
			}
		}
	}
	if err := o.store.RenumberChapters(ctx); err != nil {
		return err
	}

	o.logger.Info("planning complete",
		"chapters", len(plan.Chapters),
		"characters", len(cast.Characters),
		"world_elements", len(world.Elements))
	return nil
}
