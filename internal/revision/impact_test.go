package revision_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vampirenirmal/novelist/internal/plot"
	"github.com/vampirenirmal/novelist/internal/revision"
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
	require.NoError(t, s.CreateChapter(ctx, &story.Chapter{Number: 1, Title: "Departure"}))
	require.NoError(t, s.CreateChapter(ctx, &story.Chapter{Number: 2, Title: "The Forest"}))
	return s
}

func writtenScene(t *testing.T, s *store.Store, chapter, scene int, content string) *story.Scene {
	t.Helper()
	ctx := context.Background()
	sc := &story.Scene{ChapterNum: chapter, SceneNum: scene}
	require.NoError(t, s.CreateScene(ctx, sc))
	require.NoError(t, s.SaveSceneContent(ctx, sc.Coordinate(), content, "summary"))
	return sc
}

func linkCharacter(t *testing.T, s *store.Store, sceneID int64, slug string, inv story.Involvement) {
	t.Helper()
	require.NoError(t, s.LinkSceneEntity(context.Background(), &story.SceneEntity{
		SceneID: sceneID, EntityType: "character", EntitySlug: slug, Involvement: inv,
	}))
}

func TestCharacterNameChangePrioritizesPresenceOverMention(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCharacter(ctx, &story.Character{Slug: "hero", Name: "Mira"}))
	s11 := writtenScene(t, s, 1, 1, "Mira drew her blade and stepped into the dark.")
	s21 := writtenScene(t, s, 2, 1, "They spoke of Mira in hushed tones.")
	linkCharacter(t, s, s11.ID, "hero", story.InvolvementPresent)
	linkCharacter(t, s, s21.ID, "hero", story.InvolvementMentioned)

	newName := "Lyra"
	a := revision.NewAnalyzer(s)
	candidates, err := a.CharacterChange(ctx, "hero", "Mira", store.CharacterChanges{Name: &newName})
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	// The scene where the character is on the page outranks the one that
	// only mentions them.
	assert.Equal(t, story.Coordinate{Chapter: 1, Scene: 1}, candidates[0].Scene.Coordinate())
	assert.Equal(t, story.Coordinate{Chapter: 2, Scene: 1}, candidates[1].Scene.Coordinate())
	assert.Greater(t, candidates[0].Priority, candidates[1].Priority)

	// Both texts carry the old name, so both get the literal-match bonus.
	assert.Equal(t, 18, candidates[0].Priority)
	assert.Equal(t, 13, candidates[1].Priority)
}

func TestCharacterChangeIgnoresUnwrittenScenes(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCharacter(ctx, &story.Character{Slug: "hero", Name: "Mira"}))
	planned := &story.Scene{ChapterNum: 1, SceneNum: 1}
	require.NoError(t, s.CreateScene(ctx, planned))
	linkCharacter(t, s, planned.ID, "hero", story.InvolvementPresent)

	role := "mentor"
	a := revision.NewAnalyzer(s)
	candidates, err := a.CharacterChange(ctx, "hero", "", store.CharacterChanges{Role: &role})
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestNonIdentityChangeGetsLowerBasePriority(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCharacter(ctx, &story.Character{Slug: "hero", Name: "Mira"}))
	s11 := writtenScene(t, s, 1, 1, "Mira slept.")
	linkCharacter(t, s, s11.ID, "hero", story.InvolvementPresent)

	role := "mentor"
	a := revision.NewAnalyzer(s)
	candidates, err := a.CharacterChange(ctx, "hero", "", store.CharacterChanges{Role: &role})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, 10, candidates[0].Priority) // 5 base + 5 present
}

func TestThreadResolutionOutranksDevelopment(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	writtenScene(t, s, 1, 1, "The quest begins.")
	writtenScene(t, s, 1, 2, "The quest deepens.")

	r := plot.NewRegistry()
	require.NoError(t, r.ApplyUpdate(story.Coordinate{Chapter: 1, Scene: 1}, plot.Update{
		Name: "quest", Importance: story.ImportanceMajor, Development: "the map is found",
	}))
	require.NoError(t, r.ApplyUpdate(story.Coordinate{Chapter: 1, Scene: 2}, plot.Update{
		Name: "quest", Development: "the map is stolen",
	}))
	require.NoError(t, s.SaveRegistry(ctx, r))

	a := revision.NewAnalyzer(s)
	resolved, err := a.ThreadChange(ctx, "quest", story.ThreadResolved)
	require.NoError(t, err)
	developed, err := a.ThreadChange(ctx, "quest", story.ThreadDeveloped)
	require.NoError(t, err)

	require.Len(t, resolved, 2)
	require.Len(t, developed, 2)
	assert.Equal(t, 10, resolved[0].Priority)
	assert.Equal(t, 5, developed[0].Priority)
	// Equal priorities fall back to story order.
	assert.Equal(t, story.Coordinate{Chapter: 1, Scene: 1}, resolved[0].Scene.Coordinate())
}

func TestWorldChangeOnlyMajorCategoriesCascade(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	for i := 1; i <= 12; i++ {
		writtenScene(t, s, 1, i, fmt.Sprintf("scene %d prose", i))
	}

	a := revision.NewAnalyzer(s)

	minor, err := a.WorldChange(ctx, "cuisine", "street_food")
	require.NoError(t, err)
	assert.Empty(t, minor)

	major, err := a.WorldChange(ctx, "magic", "magic_system")
	require.NoError(t, err)
	// Bounded sample of the story's opening.
	require.Len(t, major, 10)
	for _, c := range major {
		assert.Equal(t, 3, c.Priority)
	}
	assert.Equal(t, story.Coordinate{Chapter: 1, Scene: 1}, major[0].Scene.Coordinate())
}
