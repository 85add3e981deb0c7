// Package orchestrator drives a generation run through its state machine:
// PLANNING writes the outline, world, cast and chapter plan; WRITING
// produces scenes one at a time in story order; ADVANCING moves the cursor;
// POLISHING checks the completion gate and finalizes; DONE is terminal.
//
// Drafting is strictly sequential because each scene's dependency context
// needs the final, post-revision content of every prior scene.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vampirenirmal/novelist/internal/agent"
	"github.com/vampirenirmal/novelist/internal/consistency"
	"github.com/vampirenirmal/novelist/internal/resolver"
	"github.com/vampirenirmal/novelist/internal/store"
	"github.com/vampirenirmal/novelist/internal/story"
)

// State names the orchestrator's position in the pipeline.
type State string

const (
	StatePlanning  State = "PLANNING"
	StateWriting   State = "WRITING"
	StateAdvancing State = "ADVANCING"
	StatePolishing State = "POLISHING"
	StateDone      State = "DONE"
)

// Options tunes one generation run.
type Options struct {
	// ConsistencyThreshold overrides the checker's passing score when > 0.
	ConsistencyThreshold int
	// AllowUnresolved lets the run finish even when major plot threads
	// remain unresolved. Without it the run halts at the completion gate
	// and reports the unresolved list.
	AllowUnresolved bool
	Limits          resolver.Limits
}

// Report describes what one run accomplished and where it stopped.
type Report struct {
	RunID                  string
	State                  State
	ScenesWritten          int
	ScenesRevised          int
	UnresolvedMajorThreads []string
	ResidualIssues         []consistency.Issue
}

// Orchestrator owns the generation state machine for one story.
type Orchestrator struct {
	store           *store.Store
	agent           agent.Agent
	resolver        *resolver.Resolver
	checker         *consistency.Checker
	allowUnresolved bool
	runID           string
	logger          *slog.Logger
}

// New wires an orchestrator over the store and collaborator.
func New(s *store.Store, a agent.Agent, opts Options) *Orchestrator {
	limits := opts.Limits
	if limits == (resolver.Limits{}) {
		limits = resolver.DefaultLimits()
	}
	runID := uuid.NewString()
	return &Orchestrator{
		store:           s,
		agent:           a,
		resolver:        resolver.New(s, limits),
		checker:         consistency.New(a, opts.ConsistencyThreshold),
		allowUnresolved: opts.AllowUnresolved,
		runID:           runID,
		logger:          slog.Default().With("component", "orchestrator", "run_id", runID),
	}
}

// Run executes the state machine until DONE, the completion gate, or a
// failure. A failure names the stage and coordinate it stopped at; prior
// content stays recoverable in the store. Running against a completed story
// is a caller error.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: o.runID, State: StatePlanning}

	st, err := o.store.Story(ctx)
	if err != nil {
		return report, story.NewStageError("planning", story.Coordinate{}, err)
	}
	if st.Completed {
		return report, story.NewStageError("planning", story.Coordinate{},
			fmt.Errorf("%q: %w", st.Title, story.ErrStoryComplete))
	}

	chapters, err := o.store.Chapters(ctx)
	if err != nil {
		return report, story.NewStageError("planning", story.Coordinate{}, err)
	}
	if len(chapters) == 0 {
		o.logger.Info("planning story", "title", st.Title)
		if err := o.plan(ctx, st); err != nil {
			return report, story.NewStageError("planning", story.Coordinate{}, err)
		}
	}

	report.State = StateWriting
	at, done, err := o.firstUnwritten(ctx)
	if err != nil {
		return report, story.NewStageError("writing", story.Coordinate{}, err)
	}
	for !done {
		revised, residual, err := o.writeScene(ctx, at)
		if err != nil {
			return report, story.NewStageError("writing", at, err)
		}
		report.ScenesWritten++
		if revised {
			report.ScenesRevised++
		}
		report.ResidualIssues = append(report.ResidualIssues, residual...)

		report.State = StateAdvancing
		at, done, err = o.advance(ctx, at)
		if err != nil {
			return report, story.NewStageError("advancing", at, err)
		}
		if !done {
			report.State = StateWriting
		}
	}

	report.State = StatePolishing
	unresolved, err := o.unresolvedMajorThreads(ctx)
	if err != nil {
		return report, story.NewStageError("polishing", story.Coordinate{}, err)
	}
	report.UnresolvedMajorThreads = unresolved
	if len(unresolved) > 0 {
		o.logger.Warn("major plot threads remain unresolved",
			"threads", unresolved, "proceeding", o.allowUnresolved)
		if !o.allowUnresolved {
			// Halt at the gate. Not an error: the manuscript is intact and
			// a later run with the override can finish it.
			return report, nil
		}
	}

	if err := o.polish(ctx); err != nil {
		return report, story.NewStageError("polishing", story.Coordinate{}, err)
	}
	if err := o.store.MarkStoryCompleted(ctx); err != nil {
		return report, story.NewStageError("polishing", story.Coordinate{}, err)
	}
	report.State = StateDone
	o.logger.Info("run complete",
		"scenes_written", report.ScenesWritten,
		"scenes_revised", report.ScenesRevised)
	return report, nil
}

const writeSystem = "You are writing one scene of a novel. Follow the scene plan, honor every established fact, and continue smoothly from the previous text. Return only the scene prose."

// writeScene drafts, checks and persists one scene. At most one revision
// attempt runs; residual issues after it are reported, not retried.
func (o *Orchestrator) writeScene(ctx context.Context, at story.Coordinate) (revised bool, residual []consistency.Issue, err error) {
	sc, err := o.resolver.Resolve(ctx, at)
	if err != nil {
		return false, nil, err
	}
	o.logger.Info("writing scene", "at", at.String(), "context_tokens", sc.TokenCount)

	draft, err := o.agent.Execute(ctx, writeSystem, sc.Render())
	if err != nil {
		return false, nil, fmt.Errorf("drafting: %w", err)
	}

	review, err := o.checker.Review(ctx, draft, sc)
	if err != nil {
		return false, nil, err
	}
	revised = review.Final != nil
	// Issues on a flagged scene are accumulated onto the run report even
	// when no fix pass ran (e.g. world or timeline issues with no single
	// character to fix).
	if !review.Passed {
		residual = review.ResidualIssues()
	}

	analysis, err := o.analyzeScene(ctx, at, review.Content)
	if err != nil {
		return revised, residual, err
	}
	if err := o.store.SaveSceneContent(ctx, at, review.Content, analysis.Summary); err != nil {
		return revised, residual, err
	}
	if err := o.persistDerived(ctx, at, analysis); err != nil {
		return revised, residual, err
	}
	return revised, residual, nil
}

// firstUnwritten finds the cursor position: the earliest scene in story
// order with no content. done is true when every scene is written.
func (o *Orchestrator) firstUnwritten(ctx context.Context) (story.Coordinate, bool, error) {
	scenes, err := o.store.AllScenes(ctx)
	if err != nil {
		return story.Coordinate{}, false, err
	}
	for _, sc := range scenes {
		if sc.Content == "" {
			return sc.Coordinate(), false, nil
		}
	}
	return story.Coordinate{}, true, nil
}

// advance moves the cursor: next scene in the chapter, else first scene of
// the next chapter, else done.
func (o *Orchestrator) advance(ctx context.Context, at story.Coordinate) (story.Coordinate, bool, error) {
	scenes, err := o.store.ScenesInChapter(ctx, at.Chapter)
	if err != nil {
		return at, false, err
	}
	if at.Scene < len(scenes) {
		return story.Coordinate{Chapter: at.Chapter, Scene: at.Scene + 1}, false, nil
	}
	chapters, err := o.store.Chapters(ctx)
	if err != nil {
		return at, false, err
	}
	if at.Chapter < len(chapters) {
		return story.Coordinate{Chapter: at.Chapter + 1, Scene: 1}, false, nil
	}
	return at, true, nil
}

func (o *Orchestrator) unresolvedMajorThreads(ctx context.Context) ([]string, error) {
	registry, err := o.store.LoadRegistry(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, t := range registry.UnresolvedMajorThreads() {
		names = append(names, t.Name)
	}
	return names, nil
}

const polishSystem = "You are summarizing a finished chapter of a novel in three or four sentences, for use as back-reference context."

// polish fills in missing chapter summaries from the written scenes. The
// whole-manuscript compile itself is a read-only export and lives outside
// the state machine.
func (o *Orchestrator) polish(ctx context.Context) error {
	chapters, err := o.store.Chapters(ctx)
	if err != nil {
		return err
	}
	for _, ch := range chapters {
		if ch.Summary != "" {
			continue
		}
		scenes, err := o.store.ScenesInChapter(ctx, ch.Number)
		if err != nil {
			return err
		}
		var text string
		for _, sc := range scenes {
			if sc.Summary != "" {
				text += sc.Summary + "\n"
			}
		}
		if text == "" {
			continue
		}
		summary, err := o.agent.Execute(ctx, polishSystem,
			fmt.Sprintf("Chapter %d: %s\n\nScene summaries:\n%s", ch.Number, ch.Title, text))
		if err != nil {
			return fmt.Errorf("summarizing chapter %d: %w", ch.Number, err)
		}
		if err := o.store.UpdateChapterSummary(ctx, ch.Number, summary); err != nil {
			return err
		}
	}
	return nil
}
