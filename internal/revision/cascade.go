package revision

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vampirenirmal/novelist/internal/agent"
	"github.com/vampirenirmal/novelist/internal/consistency"
	"github.com/vampirenirmal/novelist/internal/resolver"
	"github.com/vampirenirmal/novelist/internal/store"
	"github.com/vampirenirmal/novelist/internal/story"
)

// DefaultBatchSize caps how many candidates one cascade invocation
// rewrites. Each rewrite is a model call, so an unbounded cascade on a
// long manuscript would be unbounded cost.
const DefaultBatchSize = 5

// Result records what the cascade did to one scene.
type Result struct {
	Coordinate story.Coordinate
	Priority   int
	Reason     string
	// Residual holds inconsistencies the rewrite itself introduced. They
	// are surfaced here rather than re-cascaded; one pass per trigger.
	Residual []consistency.Issue
}

// Cascade drives prioritized scene rewrites after an entity change.
type Cascade struct {
	store     *store.Store
	resolver  *resolver.Resolver
	agent     agent.Agent
	checker   *consistency.Checker
	batchSize int
	logger    *slog.Logger
}

// NewCascade wires a cascade executor. checker may be nil, in which case
// rewritten scenes are persisted without re-validation.
func NewCascade(s *store.Store, r *resolver.Resolver, a agent.Agent, checker *consistency.Checker, batchSize int) *Cascade {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Cascade{
		store:     s,
		resolver:  r,
		agent:     a,
		checker:   checker,
		batchSize: batchSize,
		logger:    slog.Default().With("component", "cascade"),
	}
}

const rewriteSystem = "You are revising an already-written scene of a novel. Apply the revision directive faithfully. Every listed plot development and character-state change must survive the rewrite; the prose may change, the events may not. Return only the revised scene text."

// Execute rewrites at most one batch of the highest-priority candidates.
// originIssues carries consistency detail when the cascade was triggered by
// a failed check rather than an entity edit; it may be nil.
func (c *Cascade) Execute(ctx context.Context, candidates []Candidate, originIssues []consistency.Issue) ([]Result, error) {
	if len(candidates) > c.batchSize {
		c.logger.Info("cascade batch truncated",
			"candidates", len(candidates), "batch", c.batchSize)
		candidates = candidates[:c.batchSize]
	}

	var results []Result
	for _, cand := range candidates {
		res, err := c.reviseScene(ctx, cand, originIssues)
		if err != nil {
			return results, fmt.Errorf("revising scene %s: %w", cand.Scene.Coordinate(), err)
		}
		results = append(results, *res)
	}
	return results, nil
}

func (c *Cascade) reviseScene(ctx context.Context, cand Candidate, originIssues []consistency.Issue) (*Result, error) {
	at := cand.Scene.Coordinate()
	sc, err := c.resolver.Resolve(ctx, at)
	if err != nil {
		return nil, err
	}

	preserve, err := c.mustPreserve(ctx, cand.Scene)
	if err != nil {
		return nil, err
	}

	directive := buildDirective(cand, sc, preserve, originIssues)
	revised, err := c.agent.Execute(ctx, rewriteSystem, directive)
	if err != nil {
		return nil, fmt.Errorf("rewrite call: %w", err)
	}

	result := &Result{Coordinate: at, Priority: cand.Priority, Reason: cand.Reason}
	addressed := []string{cand.Reason}
	for _, issue := range originIssues {
		addressed = append(addressed, issue.Description)
	}

	if c.checker != nil {
		report, err := c.checker.Check(ctx, revised, sc)
		if err != nil {
			return nil, err
		}
		if len(report.Issues) > 0 {
			// Reported, not re-cascaded.
			result.Residual = report.Issues
			c.logger.Warn("rewrite left residual issues",
				"at", at.String(), "issues", len(report.Issues))
		}
	}

	if err := c.store.SaveSceneContent(ctx, at, revised, cand.Scene.Summary); err != nil {
		return nil, err
	}
	if err := c.store.RecordSceneRevision(ctx, cand.Scene.ID, cand.Reason, addressed); err != nil {
		return nil, err
	}

	c.logger.Info("scene revised",
		"at", at.String(), "priority", cand.Priority, "reason", cand.Reason)
	return result, nil
}

// mustPreserve collects the facts the rewrite is not allowed to lose: the
// plot developments recorded at the scene and the character states it
// established.
func (c *Cascade) mustPreserve(ctx context.Context, sc story.Scene) ([]string, error) {
	preserve, err := c.store.DevelopmentsAt(ctx, sc.Coordinate())
	if err != nil {
		return nil, err
	}
	states, err := c.store.CharacterStatesAtScene(ctx, sc.ID)
	if err != nil {
		return nil, err
	}
	for _, st := range states {
		line := fmt.Sprintf("%s ends the scene %s at %s",
			st.CharacterSlug, st.EmotionalState, st.Location)
		if st.Evolution != "" {
			line += "; " + st.Evolution
		}
		preserve = append(preserve, line)
	}
	return preserve, nil
}

func buildDirective(cand Candidate, sc *resolver.SceneContext, preserve []string, issues []consistency.Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "REVISION DIRECTIVE for scene %s:\n%s\n", cand.Scene.Coordinate(), cand.Reason)

	if len(issues) > 0 {
		b.WriteString("\nCONSISTENCY ISSUES TO RESOLVE:\n")
		for _, issue := range issues {
			fmt.Fprintf(&b, "- %s (conflicts with: %s). Fix: %s\n",
				issue.Description, issue.ConflictsWith, issue.Suggestion)
		}
	}

	if len(preserve) > 0 {
		b.WriteString("\nMUST PRESERVE:\n")
		for _, p := range preserve {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}

	fmt.Fprintf(&b, "\nESTABLISHED FACTS:\n%s\n\nCURRENT SCENE TEXT:\n%s",
		sc.Render(), cand.Scene.Content)
	return b.String()
}
