// ABOUTME: Wire message shapes for the relay's two WebSocket channels.
// ABOUTME: Controller-side commands/responses/events plus the agent forwarding envelope.

package protocol

import "encoding/json"

// Envelope methods used on the agent channel. Commands forwarded to the
// agent are wrapped in ForwardCommandMethod; events from the agent arrive
// wrapped in ForwardEventMethod. Both carry the original (method, params,
// sessionId) tuple inside params.
const (
	ForwardCommandMethod = "forwardCDPCommand"
	ForwardEventMethod   = "forwardCDPEvent"
)

// CDP methods the relay inspects to keep its target registry authoritative.
const (
	MethodAttachedToTarget   = "Target.attachedToTarget"
	MethodDetachedFromTarget = "Target.detachedFromTarget"
	MethodSetAutoAttach      = "Target.setAutoAttach"
)

// Command is a CDP command: sent by the controller to the relay, or by the
// relay to the agent (with Method set to ForwardCommandMethod).
type Command struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// Response answers a Command on the controller channel.
type Response struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"sessionId,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ResponseError  `json:"error,omitempty"`
}

// ResponseError carries a command failure back to the controller.
type ResponseError struct {
	Message string `json:"message"`
}

// EventOrigin distinguishes events the relay synthesizes from events
// relayed verbatim from the agent.
type EventOrigin int

const (
	// OriginAgent marks an event relayed unchanged from the agent.
	OriginAgent EventOrigin = iota
	// OriginRelay marks an event the relay generated itself.
	OriginRelay
)

// Event is a CDP event delivered to the controller.
type Event struct {
	Method    string
	Params    json.RawMessage
	SessionID string

	// Origin is the provenance tag. Relay-generated events carry an
	// additive "origin" marker on the wire; agent events are unmarked, so
	// a standard CDP client sees exactly the frames it expects.
	Origin EventOrigin
}

// eventWire is the JSON shape of an outbound event frame.
type eventWire struct {
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Origin    string          `json:"origin,omitempty"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	w := eventWire{Method: e.Method, Params: e.Params, SessionID: e.SessionID}
	if e.Origin == OriginRelay {
		w.Origin = "relay"
	}
	return json.Marshal(w)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var w eventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.Method = w.Method
	e.Params = w.Params
	e.SessionID = w.SessionID
	e.Origin = OriginAgent
	if w.Origin == "relay" {
		e.Origin = OriginRelay
	}
	return nil
}

// AgentMessage is a frame received from the agent. The presence of an id
// decides the shape: a response to a previously forwarded command when set,
// an event-forwarding envelope otherwise.
type AgentMessage struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ForwardedPayload is the params body of both envelope methods: the
// original (method, params, sessionId) tuple.
type ForwardedPayload struct {
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// TargetInfo mirrors CDP Target.TargetInfo for the fields the relay stores
// and serves back to the controller.
type TargetInfo struct {
	TargetID         string `json:"targetId"`
	Type             string `json:"type,omitempty"`
	Title            string `json:"title,omitempty"`
	URL              string `json:"url,omitempty"`
	Attached         bool   `json:"attached"`
	CanAccessOpener  bool   `json:"canAccessOpener"`
	BrowserContextID string `json:"browserContextId,omitempty"`
}

// AttachedToTargetParams is the params body of Target.attachedToTarget.
type AttachedToTargetParams struct {
	SessionID          string     `json:"sessionId"`
	TargetInfo         TargetInfo `json:"targetInfo"`
	WaitingForDebugger bool       `json:"waitingForDebugger"`
}

// DetachedFromTargetParams is the params body of Target.detachedFromTarget.
type DetachedFromTargetParams struct {
	SessionID string `json:"sessionId"`
	TargetID  string `json:"targetId,omitempty"`
}

// VersionInfo is the locally synthesized Browser.getVersion result. The
// relay answers this without an agent round trip.
type VersionInfo struct {
	ProtocolVersion string `json:"protocolVersion"`
	Product         string `json:"product"`
	Revision        string `json:"revision"`
	UserAgent       string `json:"userAgent"`
}
