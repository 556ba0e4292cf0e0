// Package conversation implements the conversation lifecycle engine.
//
// It owns the status state machine, assignment (user and team dimensions),
// tagging, and priority, and is the single writer for conversation rows.
// Every mutation is optimistic: read version, apply, conditional write,
// retry up to three times on conflict. Side effects are published on the
// event bus; subscribers re-derive state from storage, never from events.
//
// Automation actions re-enter this engine through a depth-tagged copy
// (AtDepth) so cascade protection can account for nested invocations.
package conversation
