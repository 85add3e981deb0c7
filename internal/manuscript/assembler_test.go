package manuscript_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/vampirenirmal/novelist/internal/manuscript"
	"github.com/vampirenirmal/novelist/internal/store"
	"github.com/vampirenirmal/novelist/internal/story"
)

func seedWrittenStory(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "novel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.CreateStory(ctx, &story.Story{
		ID: "test", Title: "The Relic", Premise: "a quest", Genre: "fantasy", Tone: "grim",
	}))
	require.NoError(t, s.CreateChapter(ctx, &story.Chapter{Number: 1, Title: "Departure"}))
	require.NoError(t, s.CreateChapter(ctx, &story.Chapter{Number: 2, Title: "The Forest"}))

	write := func(ch, sc int, content string) {
		scene := &story.Scene{ChapterNum: ch, SceneNum: sc}
		require.NoError(t, s.CreateScene(ctx, scene))
		if content != "" {
			require.NoError(t, s.SaveSceneContent(ctx, scene.Coordinate(), content, "done"))
		}
	}
	write(1, 1, "Mira left at dawn.")
	write(1, 2, "The road was long and cold.")
	write(2, 1, "") // planned but never written
	return s
}

func TestCompileSkipsUnwrittenScenes(t *testing.T) {
	s := seedWrittenStory(t)

	m, err := manuscript.NewAssembler(s).Compile(context.Background())
	require.NoError(t, err)

	require.Len(t, m.Chapters, 2)
	assert.Len(t, m.Chapters[0].Scenes, 2)
	assert.Empty(t, m.Chapters[1].Scenes)
	assert.Equal(t, 4+6, m.TotalWords)

	text := m.Text()
	assert.Contains(t, text, "Chapter 1: Departure")
	assert.Contains(t, text, "* * *")
	assert.Less(t, strings.Index(text, "Mira left"), strings.Index(text, "The road"))
}

func TestExportWritesManuscriptAndInfo(t *testing.T) {
	s := seedWrittenStory(t)
	ctx := context.Background()
	dir := t.TempDir()
	artifacts := manuscript.NewArtifactStore(dir)

	require.NoError(t, manuscript.NewAssembler(s).Export(ctx, artifacts))

	raw, err := artifacts.Load(ctx, "story_info.yaml")
	require.NoError(t, err)
	var info manuscript.Info
	require.NoError(t, yaml.Unmarshal(raw, &info))
	assert.Equal(t, "The Relic", info.Title)
	assert.Equal(t, 10, info.TotalWords)
	require.Len(t, info.Chapters, 2)
	assert.Equal(t, 2, info.Chapters[0].Scenes)

	doc, err := artifacts.Load(ctx, "manuscript.md")
	require.NoError(t, err)
	assert.Contains(t, string(doc), "The Relic")
}

func TestArtifactStoreRejectsEscapingPaths(t *testing.T) {
	s := manuscript.NewArtifactStore(t.TempDir())
	ctx := context.Background()

	require.Error(t, s.Save(ctx, "../outside.txt", []byte("x")))
	require.Error(t, s.Save(ctx, "/etc/passwd", []byte("x")))
	require.NoError(t, s.Save(ctx, "exports/manuscript.md", []byte("x")))
}
