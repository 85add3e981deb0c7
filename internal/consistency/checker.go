// Package consistency detects contradictions between newly generated scene
// text and previously established story facts. The evaluation itself is
// delegated to the language-model collaborator, because it requires
// natural-language judgment no deterministic rule can approximate; the
// policy around it is deterministic and owned here.
package consistency

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vampirenirmal/novelist/internal/agent"
	"github.com/vampirenirmal/novelist/internal/resolver"
)

// DefaultThreshold is the overall score at or above which a scene requires
// no action.
const DefaultThreshold = 8

// Issue is one detected contradiction.
type Issue struct {
	Type          string `json:"type" jsonschema:"enum=character,enum=world,enum=plot,enum=timeline,enum=detail" jsonschema_description:"Category of the contradiction"`
	Description   string `json:"description" jsonschema_description:"What contradicts established facts"`
	ConflictsWith string `json:"conflicts_with" jsonschema_description:"The established fact or prior scene the text conflicts with"`
	Severity      int    `json:"severity" jsonschema:"minimum=1,maximum=10" jsonschema_description:"How damaging the contradiction is, 1-10"`
	Suggestion    string `json:"suggestion" jsonschema_description:"Suggested correction"`
}

// Report is the structured result of a scene-level consistency evaluation.
type Report struct {
	CharacterConsistent bool    `json:"character_consistent" jsonschema_description:"Character behavior matches established traits"`
	WorldConsistent     bool    `json:"world_consistent" jsonschema_description:"No world-rule violations"`
	PlotConsistent      bool    `json:"plot_consistent" jsonschema_description:"No plot contradictions or knowledge a character should not have"`
	TimelineConsistent  bool    `json:"timeline_consistent" jsonschema_description:"No timeline breaks"`
	DetailConsistent    bool    `json:"detail_consistent" jsonschema_description:"Physical and factual details match prior scenes"`
	OverallScore        int     `json:"overall_score" jsonschema:"minimum=1,maximum=10" jsonschema_description:"Overall consistency score, 1-10"`
	Issues              []Issue `json:"issues" jsonschema_description:"Detected contradictions, empty when fully consistent"`
}

// CharacterReport is the result of checking one character's portrayal
// against their established profile.
type CharacterReport struct {
	Consistent bool    `json:"consistent" jsonschema_description:"Actions, motivation, dialogue and emotion fit the established profile"`
	Score      int     `json:"score" jsonschema:"minimum=1,maximum=10" jsonschema_description:"Consistency score for this character, 1-10"`
	Issues     []Issue `json:"issues" jsonschema_description:"Contradictions specific to this character"`
}

var (
	reportSchema = agent.GenerateSchema[Report](
		"consistency_report",
		"Consistency evaluation of a scene against established story facts")
	characterSchema = agent.GenerateSchema[CharacterReport](
		"character_consistency_report",
		"Consistency evaluation of one character's portrayal in a scene")
)

// ReviewResult reports what the checker did to a scene.
type ReviewResult struct {
	Content        string  // final scene text, possibly rewritten once
	Passed         bool    // the incoming text cleared the gate, no action needed
	Initial        *Report // evaluation of the incoming text
	Final          *Report // evaluation after the fix pass, nil if none ran
	FixedCharacter string  // slug of the one character whose issues were fixed
	FixedIssues    []Issue
}

// ResidualIssues returns issues still standing after the bounded fix pass.
// They are reported, never re-cascaded.
func (r *ReviewResult) ResidualIssues() []Issue {
	if r.Final != nil {
		return r.Final.Issues
	}
	return r.Initial.Issues
}

// Checker owns the deterministic consistency policy.
type Checker struct {
	agent     agent.Agent
	threshold int
	logger    *slog.Logger
}

// New creates a checker using the given collaborator.
func New(a agent.Agent, threshold int) *Checker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Checker{
		agent:     a,
		threshold: threshold,
		logger:    slog.Default().With("component", "consistency"),
	}
}

const checkSystem = "You are a continuity editor. Compare the scene against the established story facts and report contradictions. Judge only consistency, not prose quality."

// Check evaluates scene text against its dependency context.
func (c *Checker) Check(ctx context.Context, content string, sc *resolver.SceneContext) (*Report, error) {
	prompt := fmt.Sprintf("ESTABLISHED FACTS:\n%s\n\nSCENE TEXT:\n%s", sc.Render(), content)
	var report Report
	if err := c.agent.ExecuteStructured(ctx, checkSystem, prompt, reportSchema, &report); err != nil {
		return nil, fmt.Errorf("consistency check at %s: %w", sc.Coordinate, err)
	}
	return &report, nil
}

// CheckCharacter evaluates one character's portrayal independently.
func (c *Checker) CheckCharacter(ctx context.Context, content string, sc *resolver.SceneContext, ch resolver.CharacterContext) (*CharacterReport, error) {
	prompt := fmt.Sprintf(
		"CHARACTER PROFILE:\nName: %s\nRole: %s\nBackstory: %s\nPersonality: %s\nCurrent state: %s\nKnows: %s\n\nSCENE TEXT:\n%s",
		ch.Name, ch.Role, ch.Backstory, ch.Personality, ch.EmotionalState,
		strings.Join(ch.Knowledge, "; "), content)
	var report CharacterReport
	if err := c.agent.ExecuteStructured(ctx, checkSystem, prompt, characterSchema, &report); err != nil {
		return nil, fmt.Errorf("character consistency check for %s: %w", ch.Slug, err)
	}
	return &report, nil
}

// Review applies the full policy to a scene: a score at or above the
// threshold requires no action; below it, with at least one issue, exactly
// one fix-and-recheck pass runs, and only the first flagged character's
// issues are fixed. Multi-character inconsistencies may need later passes;
// that sequencing choice avoids compounding simultaneous edits.
func (c *Checker) Review(ctx context.Context, content string, sc *resolver.SceneContext) (*ReviewResult, error) {
	initial, err := c.Check(ctx, content, sc)
	if err != nil {
		return nil, err
	}
	result := &ReviewResult{Content: content, Initial: initial}

	if initial.OverallScore >= c.threshold || len(initial.Issues) == 0 {
		result.Passed = true
		c.logger.Debug("scene passes consistency gate",
			"at", sc.Coordinate.String(),
			"score", initial.OverallScore,
			"issues", len(initial.Issues))
		return result, nil
	}

	c.logger.Info("scene flagged for consistency fix",
		"at", sc.Coordinate.String(),
		"score", initial.OverallScore,
		"issues", len(initial.Issues))

	for _, ch := range sc.Characters {
		report, err := c.CheckCharacter(ctx, content, sc, ch)
		if err != nil {
			return nil, err
		}
		if report.Consistent || len(report.Issues) == 0 {
			continue
		}

		fixed, err := c.fix(ctx, content, sc, ch, report.Issues)
		if err != nil {
			return nil, err
		}
		result.Content = fixed
		result.FixedCharacter = ch.Slug
		result.FixedIssues = report.Issues

		final, err := c.Check(ctx, fixed, sc)
		if err != nil {
			return nil, err
		}
		result.Final = final
		// One character per pass, then stop.
		break
	}
	return result, nil
}

const fixSystem = "You are a line editor. Rewrite the scene to resolve the listed contradictions while changing as little prose as possible. Keep every plot event, revelation and character-state change intact."

func (c *Checker) fix(ctx context.Context, content string, sc *resolver.SceneContext, ch resolver.CharacterContext, issues []Issue) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Contradictions involving %s:\n", ch.Name)
	for _, issue := range issues {
		fmt.Fprintf(&b, "- %s (conflicts with: %s). Fix: %s\n", issue.Description, issue.ConflictsWith, issue.Suggestion)
	}
	fmt.Fprintf(&b, "\nESTABLISHED FACTS:\n%s\n\nSCENE TEXT:\n%s", sc.Render(), content)

	fixed, err := c.agent.Execute(ctx, fixSystem, b.String())
	if err != nil {
		return "", fmt.Errorf("consistency fix for %s at %s: %w", ch.Slug, sc.Coordinate, err)
	}
	return fixed, nil
}
