package resolver_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vampirenirmal/novelist/internal/plot"
	"github.com/vampirenirmal/novelist/internal/resolver"
	"github.com/vampirenirmal/novelist/internal/store"
	"github.com/vampirenirmal/novelist/internal/story"
)

func seedStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "novel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.CreateStory(ctx, &story.Story{
		ID: "test", Title: "The Relic", Premise: "a quest", Genre: "fantasy",
		Tone: "grim", Language: "en",
	}))
	require.NoError(t, s.CreateChapter(ctx, &story.Chapter{Number: 1, Title: "Departure", Outline: "the hero leaves"}))
	require.NoError(t, s.CreateChapter(ctx, &story.Chapter{Number: 2, Title: "The Forest"}))
	return s
}

func TestResolveMissingRequiredCharacterFailsFast(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateScene(ctx, &story.Scene{
		ChapterNum: 1, SceneNum: 1, Description: "opening",
		RequiredCharacters: []string{"ghost"},
	}))

	r := resolver.New(s, resolver.DefaultLimits())
	_, err := r.Resolve(ctx, story.Coordinate{Chapter: 1, Scene: 1})
	require.ErrorIs(t, err, story.ErrMissingEntity)
}

func TestResolveGathersCharacterContext(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCharacter(ctx, &story.Character{
		Slug: "hero", Name: "Mira", Role: "protagonist",
		Backstory: "orphaned", Personality: "stubborn",
	}))
	require.NoError(t, s.CreateCharacter(ctx, &story.Character{Slug: "rival", Name: "Dax"}))
	require.NoError(t, s.CreateRelationship(ctx, &story.Relationship{
		CharacterA: "hero", CharacterB: "rival", Type: "rivalry",
	}))

	s11 := &story.Scene{ChapterNum: 1, SceneNum: 1}
	require.NoError(t, s.CreateScene(ctx, s11))
	require.NoError(t, s.CreateScene(ctx, &story.Scene{
		ChapterNum: 1, SceneNum: 2, Description: "confrontation",
		RequiredCharacters: []string{"hero", "rival"},
	}))

	require.NoError(t, s.AppendCharacterState(ctx, &story.CharacterState{
		CharacterSlug: "hero", SceneID: s11.ID, EmotionalState: "wary", Location: "inn",
		Knowledge: []string{"f1", "f2", "f3", "f4", "f5", "f6", "f7"},
	}))

	r := resolver.New(s, resolver.DefaultLimits())
	sc, err := r.Resolve(ctx, story.Coordinate{Chapter: 1, Scene: 2})
	require.NoError(t, err)

	require.Len(t, sc.Characters, 2)
	hero := sc.Characters[0]
	assert.Equal(t, "Mira", hero.Name)
	assert.Equal(t, "wary", hero.EmotionalState)
	// Only the last 5 knowledge facts survive.
	assert.Equal(t, []string{"f3", "f4", "f5", "f6", "f7"}, hero.Knowledge)

	require.Len(t, sc.Relationships, 1)
	assert.Equal(t, "rivalry", sc.Relationships[0].Type)
}

func TestResolveCapsActiveThreads(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	r := plot.NewRegistry()
	at := story.Coordinate{Chapter: 1, Scene: 1}
	for _, name := range []string{"t1", "t2", "t3", "t4", "t5", "t6", "t7"} {
		require.NoError(t, r.ApplyUpdate(at, plot.Update{Name: name, Importance: story.ImportanceMinor}))
	}
	require.NoError(t, r.ApplyUpdate(at, plot.Update{Name: "big", Importance: story.ImportanceMajor}))
	require.NoError(t, s.SaveRegistry(ctx, r))

	require.NoError(t, s.CreateScene(ctx, &story.Scene{ChapterNum: 1, SceneNum: 1}))

	res := resolver.New(s, resolver.DefaultLimits())
	sc, err := res.Resolve(ctx, at)
	require.NoError(t, err)

	require.Len(t, sc.ActiveThreads, 5)
	// Major importance sorts first.
	assert.Equal(t, "big", sc.ActiveThreads[0].Name)
}

func TestResolveWorldElementsByKeywordOverlap(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutWorldElement(ctx, story.WorldElement{
		Category: "magic", Key: "magic_system", Value: "blood magic drains the caster",
	}))
	require.NoError(t, s.PutWorldElement(ctx, story.WorldElement{
		Category: "politics", Key: "succession_law", Value: "the eldest rules",
	}))

	require.NoError(t, s.CreateScene(ctx, &story.Scene{
		ChapterNum: 1, SceneNum: 1,
		Description: "Mira attempts blood magic for the first time",
	}))

	r := resolver.New(s, resolver.DefaultLimits())
	sc, err := r.Resolve(ctx, story.Coordinate{Chapter: 1, Scene: 1})
	require.NoError(t, err)

	require.Len(t, sc.WorldElements, 1)
	assert.Equal(t, "magic_system", sc.WorldElements[0].Key)
}

func TestResolvePreviousTailCrossesChapterBoundary(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	long := strings.Repeat("word ", 400) + "the final sentence."
	sc1 := &story.Scene{ChapterNum: 1, SceneNum: 1}
	require.NoError(t, s.CreateScene(ctx, sc1))
	require.NoError(t, s.SaveSceneContent(ctx, sc1.Coordinate(), long, "ch1 wrapped up"))
	require.NoError(t, s.CreateScene(ctx, &story.Scene{ChapterNum: 2, SceneNum: 1}))

	r := resolver.New(s, resolver.DefaultLimits())
	got, err := r.Resolve(ctx, story.Coordinate{Chapter: 2, Scene: 1})
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(got.PreviousTail, "the final sentence."))
	assert.LessOrEqual(t, len(strings.Fields(got.PreviousTail)), 300)
}

func TestResolveReportsUnmetPrerequisites(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordPlotProgression(ctx, &story.PlotProgression{
		Key: "map_found", ChapterNum: 1, SceneNum: 1,
	}))
	require.NoError(t, s.CreateScene(ctx, &story.Scene{
		ChapterNum: 1, SceneNum: 1,
		Prerequisites: []string{"map_found", "mentor_dies"},
	}))

	r := resolver.New(s, resolver.DefaultLimits())
	sc, err := r.Resolve(ctx, story.Coordinate{Chapter: 1, Scene: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"mentor_dies"}, sc.UnmetPrerequisites)
}
