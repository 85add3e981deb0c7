// Package agent wraps the external prose-generation collaborator. The core
// pipeline only ever sees the Agent interface, so plot-thread transitions,
// priority computation and dependency resolution stay testable without a
// network call.
package agent

import "context"

// Agent is a stateless call to a large language model. Failures propagate to
// the caller of the step that invoked them; no step fabricates a default on
// error.
type Agent interface {
	// Execute sends a prompt and returns the raw text completion.
	Execute(ctx context.Context, system, prompt string) (string, error)
	// ExecuteStructured sends a prompt constrained to the given JSON schema
	// and unmarshals the response into out.
	ExecuteStructured(ctx context.Context, system, prompt string, schema Schema, out any) error
}
