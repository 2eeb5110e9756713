// ABOUTME: Package documentation for the relay core.
// ABOUTME: Covers slot lifecycle, routing, correlation, and the concurrency model.

// Package relay implements the bidirectional protocol relay between a
// remote-debugging controller and the browser extension agent.
//
// # Connection slots
//
// The relay holds exactly one controller slot and one agent slot. A
// connect attempt against an occupied slot is closed immediately with a
// normal-closure frame and a reason string; the occupant is untouched.
// Losing the agent cascades: every pending request fails with a fixed
// "connection closed" error, the target registry clears, and the
// controller is forcibly closed. Losing the controller has no effect on
// the agent.
//
// # Routing
//
// Controller commands hit the Router's ordered table. Browser.getVersion,
// Browser.setDownloadBehavior, root Target.setAutoAttach,
// Target.getTargetInfo, and Target.getTargets are answered locally from
// the target registry; everything else is wrapped in the forwarding
// envelope and sent to the agent. The Correlator pairs the forwarded
// command with the agent's eventual response by numeric id.
//
// # Concurrency
//
// Each slot has one read loop. Frames are handled to completion in order;
// the only suspension point is the agent round trip, which parks in its
// own goroutine on the Correlator's outcome channel so further traffic
// keeps flowing. Outstanding round trips have no timeout: they complete
// on a matching response or fail on agent disconnect, exactly once.
package relay
