// ABOUTME: Package documentation for the target registry.
// ABOUTME: Explains ownership and the attach/detach invariant.

// Package target tracks the debugging targets currently attached through
// the agent.
//
// The registry is owned by the relay's connection manager and is only ever
// written from agent-side events: Target.attachedToTarget inserts, and
// Target.detachedFromTarget removes. Its key set therefore always equals
// the set of session ids whose most recent agent event was an attach. When
// the agent connection drops the registry is cleared wholesale.
//
// Reads serve the locally intercepted Target.* commands: getTargets,
// getTargetInfo, and the attach-event replay performed for a root
// Target.setAutoAttach.
package target
