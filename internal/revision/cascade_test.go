package revision_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vampirenirmal/novelist/internal/agent"
	"github.com/vampirenirmal/novelist/internal/resolver"
	"github.com/vampirenirmal/novelist/internal/revision"
	"github.com/vampirenirmal/novelist/internal/story"
)

func TestCascadeBoundsBatchSize(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	var candidates []revision.Candidate
	for i := 1; i <= 7; i++ {
		sc := writtenScene(t, s, 1, i, fmt.Sprintf("old prose %d", i))
		candidates = append(candidates, revision.Candidate{
			Scene: *sc, Priority: 10 - i, Reason: "character edited",
		})
	}

	mock := agent.NewMock()
	for i := 0; i < 5; i++ {
		mock.QueueText(fmt.Sprintf("revised prose %d", i+1))
	}
	c := revision.NewCascade(s, resolver.New(s, resolver.DefaultLimits()), mock, nil, 0)

	results, err := c.Execute(ctx, candidates, nil)
	require.NoError(t, err)

	// Only the five highest-priority candidates get a rewrite.
	require.Len(t, results, 5)
	assert.Equal(t, 5, mock.TextCalls)

	got, err := s.SceneContent(ctx, story.Coordinate{Chapter: 1, Scene: 5})
	require.NoError(t, err)
	assert.Equal(t, "revised prose 5", got)
	untouched, err := s.SceneContent(ctx, story.Coordinate{Chapter: 1, Scene: 6})
	require.NoError(t, err)
	assert.Equal(t, "old prose 6", untouched)
}

func TestCascadeClearsRevisionFlagAndRecordsAudit(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	sc := writtenScene(t, s, 1, 1, "old prose")
	require.NoError(t, s.MarkNeedsRevision(ctx, sc.ID, "thread status changed"))

	mock := agent.NewMock()
	mock.QueueText("new prose")
	c := revision.NewCascade(s, resolver.New(s, resolver.DefaultLimits()), mock, nil, 0)

	_, err := c.Execute(ctx, []revision.Candidate{
		{Scene: *sc, Priority: 10, Reason: "thread status changed"},
	}, nil)
	require.NoError(t, err)

	got, err := s.Scene(ctx, sc.Coordinate())
	require.NoError(t, err)
	assert.Equal(t, "new prose", got.Content)
	assert.Equal(t, 1, got.RevisionCount)
	assert.False(t, got.NeedsRevision, "pending flag must be cleared so the run does not loop")

	audit, err := s.SceneRevisions(ctx, sc.ID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "thread status changed", audit[0].Reason)
}

func TestCascadeDirectiveCarriesMustPreserveFacts(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	sc := writtenScene(t, s, 1, 1, "old prose")
	require.NoError(t, s.CreateCharacter(ctx, &story.Character{Slug: "hero", Name: "Mira"}))
	require.NoError(t, s.AppendCharacterState(ctx, &story.CharacterState{
		CharacterSlug: "hero", SceneID: sc.ID,
		EmotionalState: "furious", Location: "the bridge",
	}))

	mock := agent.NewMock()
	mock.QueueText("new prose")
	c := revision.NewCascade(s, resolver.New(s, resolver.DefaultLimits()), mock, nil, 0)

	_, err := c.Execute(ctx, []revision.Candidate{
		{Scene: *sc, Priority: 10, Reason: "world element changed"},
	}, nil)
	require.NoError(t, err)

	require.Len(t, mock.TextPrompts, 1)
	assert.Contains(t, mock.TextPrompts[0], "MUST PRESERVE")
	assert.Contains(t, mock.TextPrompts[0], "hero ends the scene furious at the bridge")
}
