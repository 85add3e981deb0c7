package orchestrator_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vampirenirmal/novelist/internal/agent"
	"github.com/vampirenirmal/novelist/internal/orchestrator"
	"github.com/vampirenirmal/novelist/internal/revision"
	"github.com/vampirenirmal/novelist/internal/store"
	"github.com/vampirenirmal/novelist/internal/story"
)

func newStory(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "novel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.CreateStory(context.Background(), &story.Story{
		ID: "run", Title: "The Relic", Premise: "a quest for a lost relic",
		Genre: "fantasy", Tone: "grim", Language: "en",
	}))
	return s
}

const (
	planOutline  = `{"title":"The Relic","outline":"Mira seeks the relic and pays for it.","themes":["duty"]}`
	planWorld    = `{"elements":[],"locations":[]}`
	planCast     = `{"characters":[{"slug":"hero","name":"Mira","role":"protagonist","backstory":"orphaned","personality":"stubborn"}],"relationships":[]}`
	planChapters = `{"chapters":[
		{"title":"Departure","outline":"Mira leaves home","scenes":[
			{"description":"Mira accepts the quest","scene_type":"revelation","dramatic_goal":"commit","tension_level":4,"required_characters":["hero"],"required_progressions":["quest_accepted"],"forbidden_repetitions":["the prophecy retold"]},
			{"description":"The road out","scene_type":"travel","dramatic_goal":"transition","tension_level":2,"required_characters":[],"prerequisites":["quest_accepted"]}]},
		{"title":"The Forest","outline":"Rumors of Mira spread","scenes":[
			{"description":"Villagers speak of the seeker","scene_type":"dialogue","dramatic_goal":"raise stakes","tension_level":3,"required_characters":[]},
			{"description":"Nightfall","scene_type":"reflection","dramatic_goal":"breathe","tension_level":2,"required_characters":[]}]}]}`

	cleanReport = `{"character_consistent":true,"world_consistent":true,"plot_consistent":true,"timeline_consistent":true,"detail_consistent":true,"overall_score":9,"issues":[]}`

	worldIssueReport = `{"character_consistent":true,"world_consistent":false,"plot_consistent":true,"timeline_consistent":true,"detail_consistent":true,"overall_score":5,"issues":[{"type":"world","description":"iron repels magic here","conflicts_with":"established magic rules","severity":6,"suggestion":"drop the iron ward"}]}`

	analysis11 = `{"summary":"the quest begins","thread_updates":[{"name":"Quest","description":"the hunt for the relic","status":"introduced","importance":"major","related_characters":["hero"],"development":"Mira accepts the quest"}],"character_states":[{"character":"hero","emotional_state":"resolute","location":"village","knowledge":["the relic exists"],"evolution":""}],"progressions":[{"key":"quest_accepted","description":"Mira commits"}],"characters":[{"slug":"hero","involvement":"present"}],"locations":[]}`
	analysis12 = `{"summary":"the road","thread_updates":[],"character_states":[{"character":"hero","emotional_state":"weary","location":"the road","knowledge":["the map is fake"],"evolution":""}],"progressions":[],"characters":[],"locations":[]}`
	analysis21 = `{"summary":"rumors","thread_updates":[],"character_states":[],"progressions":[],"characters":[{"slug":"hero","involvement":"mentioned"}],"locations":[]}`
	analysis22 = `{"summary":"night","thread_updates":[],"character_states":[],"progressions":[],"characters":[],"locations":[]}`
)

// scriptFullRun queues the collaborator responses for a complete run over
// the 2x2 plan above: planning, four drafts, four clean checks, four
// analyses. Polish summaries fall through to the mock's default response.
func scriptFullRun(mock *agent.Mock) {
	mock.QueueStructured("story_outline", planOutline)
	mock.QueueStructured("world_plan", planWorld)
	mock.QueueStructured("character_plan", planCast)
	mock.QueueStructured("chapter_plan", planChapters)
	mock.QueueText("draft 1", "draft 2", "draft 3", "draft 4")
	mock.QueueStructured("consistency_report", cleanReport, cleanReport, cleanReport, cleanReport)
	mock.QueueStructured("scene_analysis", analysis11, analysis12, analysis21, analysis22)
}

func TestRunGeneratesFullStoryInOrder(t *testing.T) {
	s := newStory(t)
	ctx := context.Background()
	mock := agent.NewMock()
	scriptFullRun(mock)

	o := orchestrator.New(s, mock, orchestrator.Options{AllowUnresolved: true})
	report, err := o.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, orchestrator.StateDone, report.State)
	assert.Equal(t, 4, report.ScenesWritten)
	assert.Equal(t, 0, report.ScenesRevised)
	assert.Equal(t, []string{"Quest"}, report.UnresolvedMajorThreads)

	// Scenes are drafted strictly in story order.
	for i, at := range []story.Coordinate{
		{Chapter: 1, Scene: 1}, {Chapter: 1, Scene: 2},
		{Chapter: 2, Scene: 1}, {Chapter: 2, Scene: 2},
	} {
		content, err := s.SceneContent(ctx, at)
		require.NoError(t, err)
		assert.Equal(t, []string{"draft 1", "draft 2", "draft 3", "draft 4"}[i], content)
	}

	st, err := s.Story(ctx)
	require.NoError(t, err)
	assert.True(t, st.Completed)
}

func TestNameChangeAfterRunRanksPresenceAboveMention(t *testing.T) {
	s := newStory(t)
	ctx := context.Background()
	mock := agent.NewMock()
	scriptFullRun(mock)

	o := orchestrator.New(s, mock, orchestrator.Options{AllowUnresolved: true})
	_, err := o.Run(ctx)
	require.NoError(t, err)

	newName := "Lyra"
	candidates, err := revision.NewAnalyzer(s).CharacterChange(ctx, "hero", "Mira",
		store.CharacterChanges{Name: &newName})
	require.NoError(t, err)

	require.Len(t, candidates, 2)
	assert.Equal(t, story.Coordinate{Chapter: 1, Scene: 1}, candidates[0].Scene.Coordinate())
	assert.Equal(t, story.Coordinate{Chapter: 2, Scene: 1}, candidates[1].Scene.Coordinate())
	assert.Greater(t, candidates[0].Priority, candidates[1].Priority)
}

func TestCompletionGateHaltsWithoutOverride(t *testing.T) {
	s := newStory(t)
	ctx := context.Background()
	mock := agent.NewMock()
	scriptFullRun(mock)

	o := orchestrator.New(s, mock, orchestrator.Options{})
	report, err := o.Run(ctx)
	require.NoError(t, err)

	// The gate reports the unresolved list and stops short of DONE.
	assert.Equal(t, orchestrator.StatePolishing, report.State)
	assert.Equal(t, []string{"Quest"}, report.UnresolvedMajorThreads)

	st, err := s.Story(ctx)
	require.NoError(t, err)
	assert.False(t, st.Completed)

	// A later run with the override finishes without redrafting anything.
	second, err := orchestrator.New(s, mock, orchestrator.Options{AllowUnresolved: true}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StateDone, second.State)
	assert.Equal(t, 0, second.ScenesWritten)
}

func TestPlanPersistsSceneConstraints(t *testing.T) {
	s := newStory(t)
	ctx := context.Background()
	mock := agent.NewMock()
	scriptFullRun(mock)

	_, err := orchestrator.New(s, mock, orchestrator.Options{AllowUnresolved: true}).Run(ctx)
	require.NoError(t, err)

	opening, err := s.Scene(ctx, story.Coordinate{Chapter: 1, Scene: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"quest_accepted"}, opening.RequiredProgressions)
	assert.Equal(t, []string{"the prophecy retold"}, opening.ForbiddenRepetitions)

	road, err := s.Scene(ctx, story.Coordinate{Chapter: 1, Scene: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"quest_accepted"}, road.Prerequisites)
}

func TestCharacterKnowledgeAccumulatesAcrossScenes(t *testing.T) {
	s := newStory(t)
	ctx := context.Background()
	mock := agent.NewMock()
	scriptFullRun(mock)

	_, err := orchestrator.New(s, mock, orchestrator.Options{AllowUnresolved: true}).Run(ctx)
	require.NoError(t, err)

	// Scene 1.1 teaches one fact, scene 1.2 another. The later state carries
	// both, earliest first.
	state, err := s.CharacterStateAt(ctx, "hero", story.Coordinate{Chapter: 2, Scene: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"the relic exists", "the map is fake"}, state.Knowledge)
	assert.Equal(t, "weary", state.EmotionalState)
}

func TestResidualIssuesReportedWithoutFixPass(t *testing.T) {
	s := newStory(t)
	ctx := context.Background()
	mock := agent.NewMock()
	mock.QueueStructured("story_outline", planOutline)
	mock.QueueStructured("world_plan", planWorld)
	mock.QueueStructured("character_plan", planCast)
	mock.QueueStructured("chapter_plan", planChapters)
	mock.QueueText("draft 1", "draft 2", "draft 3", "draft 4")
	// Scene 1.2 is flagged for a world contradiction. It has no required
	// characters, so no character fix can run and the issue stands.
	mock.QueueStructured("consistency_report", cleanReport, worldIssueReport, cleanReport, cleanReport)
	mock.QueueStructured("scene_analysis", analysis11, analysis12, analysis21, analysis22)

	report, err := orchestrator.New(s, mock, orchestrator.Options{AllowUnresolved: true}).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, orchestrator.StateDone, report.State)
	assert.Equal(t, 0, report.ScenesRevised)
	require.Len(t, report.ResidualIssues, 1)
	assert.Equal(t, "world", report.ResidualIssues[0].Type)
	assert.Equal(t, "iron repels magic here", report.ResidualIssues[0].Description)
}

func TestRunRejectsCompletedStory(t *testing.T) {
	s := newStory(t)
	ctx := context.Background()
	require.NoError(t, s.MarkStoryCompleted(ctx))

	o := orchestrator.New(s, agent.NewMock(), orchestrator.Options{})
	_, err := o.Run(ctx)
	require.ErrorIs(t, err, story.ErrStoryComplete)

	var stage *story.StageError
	require.ErrorAs(t, err, &stage)
	assert.Equal(t, "planning", stage.Stage)
}

func TestFailureReportsStageAndCoordinate(t *testing.T) {
	s := newStory(t)
	ctx := context.Background()
	mock := agent.NewMock()
	mock.QueueStructured("story_outline", planOutline)
	mock.QueueStructured("world_plan", planWorld)
	mock.QueueStructured("character_plan", planCast)
	mock.QueueStructured("chapter_plan", planChapters)
	// No consistency reports queued: the first scene's check fails.

	o := orchestrator.New(s, mock, orchestrator.Options{})
	_, err := o.Run(ctx)
	require.Error(t, err)

	var stage *story.StageError
	require.ErrorAs(t, err, &stage)
	assert.Equal(t, "writing", stage.Stage)
	assert.Equal(t, story.Coordinate{Chapter: 1, Scene: 1}, stage.Coordinate)

	// Planning output survives the failure.
	chapters, err := s.Chapters(ctx)
	require.NoError(t, err)
	assert.Len(t, chapters, 2)
}
