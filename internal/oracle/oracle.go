// Package oracle defines the judgment collaborator consulted for semantic
// decisions beyond deterministic pattern matching. The real implementation
// talks to the Anthropic API; the heuristic implementation is the offline
// reference fallback. Both are interchangeable behind the Oracle interface.
package oracle

import "context"

// Oracle answers a free-form prompt with a structured-JSON-shaped reply.
// Implementations may block for the duration of a network call; callers must
// treat an error as "no judgment available" and fall back locally.
type Oracle interface {
	Assess(ctx context.Context, system, prompt string) (string, error)
}
