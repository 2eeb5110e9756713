// ABOUTME: Package documentation for the relay wire protocol.
// ABOUTME: Describes the controller and agent frame shapes and the forwarding envelope.

// Package protocol defines the JSON frame shapes spoken on the relay's two
// WebSocket channels.
//
// # Controller channel
//
// The controller speaks plain CDP: Command frames in, Response and Event
// frames out. Responses are correlated by the controller's own command id;
// the relay never rewrites it.
//
// # Agent channel
//
// The agent does not speak raw CDP. Commands the relay cannot answer
// locally are wrapped in a forwarding envelope:
//
//	{ "id": 7, "method": "forwardCDPCommand",
//	  "params": { "method": "Page.navigate", "params": {...}, "sessionId": "..." } }
//
// and answered by id:
//
//	{ "id": 7, "result": {...} }            // or { "id": 7, "error": "..." }
//
// Events travel the other way inside the same tuple shape, with no id:
//
//	{ "method": "forwardCDPEvent",
//	  "params": { "method": "Target.attachedToTarget", "params": {...}, "sessionId": "" } }
//
// # Event provenance
//
// Outbound controller events are a tagged union: relayed verbatim from the
// agent, or synthesized by the relay (the auto-attach replay). The tag
// surfaces on the wire only as an additive "origin" field on synthesized
// events, so standard CDP clients are unaffected.
package protocol
