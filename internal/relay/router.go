// ABOUTME: Routing table for controller commands.
// ABOUTME: Answers a fixed set of methods from the target registry; everything else falls through to forwarding.

package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/cdp-relay/internal/protocol"
	"github.com/2389/cdp-relay/internal/target"
)

// ErrAgentUnavailable indicates a command needed the agent and no agent
// connection is present.
var ErrAgentUnavailable = errors.New("agent not connected")

// emptyResult is the canonical empty success body.
var emptyResult = json.RawMessage(`{}`)

// Request is one controller command to route.
type Request struct {
	Method    string
	Params    json.RawMessage
	SessionID string
}

// Reply is the outcome of routing one Request: either an immediate local
// Result, or a Pending channel carrying the agent's eventual answer.
// Exactly one of the two is set.
type Reply struct {
	Result  json.RawMessage
	Pending <-chan Outcome
}

// Forwarder issues a command to the agent and returns the channel its
// response arrives on. Returns ErrAgentUnavailable without transmitting
// when no agent is connected.
type Forwarder interface {
	Forward(method string, params json.RawMessage, sessionID string) (<-chan Outcome, error)
}

// route is one row of the routing table. handle answers locally and returns
// handled=true, or returns handled=false to fall through to forwarding.
type route struct {
	method string
	handle func(Request) (json.RawMessage, bool, error)
}

// Router resolves controller commands: a fixed table of Target.* and
// Browser.* methods is answered from the registry, everything else is
// forwarded to the agent verbatim.
type Router struct {
	targets   *target.Registry
	forwarder Forwarder
	logger    *slog.Logger
	version   string
	routes    []route
}

// NewRouter creates a Router over the given registry and forwarder. The
// version string is echoed in the synthesized Browser.getVersion answer.
func NewRouter(targets *target.Registry, forwarder Forwarder, version string, logger *slog.Logger) *Router {
	r := &Router{
		targets:   targets,
		forwarder: forwarder,
		logger:    logger,
		version:   version,
	}

	// Evaluated in order, first matching method wins. Rows that return
	// handled=false exist to make the fall-through to forwarding explicit.
	r.routes = []route{
		{"Browser.getVersion", r.getVersion},
		{"Browser.setDownloadBehavior", r.setDownloadBehavior},
		{protocol.MethodSetAutoAttach, r.setAutoAttach},
		{"Target.getTargetInfo", r.getTargetInfo},
		{"Target.getTargets", r.getTargets},
		{"Target.closeTarget", r.closeTarget},
	}
	return r
}

// Route resolves one controller command. Local answers return synchronously
// in Reply.Result; forwarded commands return a Reply.Pending channel the
// caller awaits.
func (r *Router) Route(req Request) (Reply, error) {
	for _, rt := range r.routes {
		if rt.method != req.Method {
			continue
		}
		result, handled, err := rt.handle(req)
		if err != nil {
			return Reply{}, err
		}
		if handled {
			r.logger.Debug("answered locally", "method", req.Method)
			return Reply{Result: result}, nil
		}
		break
	}

	ch, err := r.forwarder.Forward(req.Method, req.Params, req.SessionID)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Pending: ch}, nil
}

// getVersion answers with a synthetic browser descriptor. The controller
// believes it is talking to a standard debugging backend.
func (r *Router) getVersion(Request) (json.RawMessage, bool, error) {
	result, err := json.Marshal(protocol.VersionInfo{
		ProtocolVersion: "1.3",
		Product:         "Chrome/cdp-relay",
		Revision:        "@cdp-relay",
		UserAgent:       "cdp-relay/" + r.version,
	})
	if err != nil {
		return nil, false, fmt.Errorf("encoding version info: %w", err)
	}
	return result, true, nil
}

// setDownloadBehavior is acknowledged locally and never reaches the agent.
func (r *Router) setDownloadBehavior(Request) (json.RawMessage, bool, error) {
	return emptyResult, true, nil
}

// setAutoAttach acknowledges the root (sessionless) call locally; the
// connection manager replays attach events for already-known targets before
// delivering the result. Per-session auto-attach is the agent's business
// and falls through.
func (r *Router) setAutoAttach(req Request) (json.RawMessage, bool, error) {
	if req.SessionID != "" {
		return nil, false, nil
	}
	return emptyResult, true, nil
}

// getTargetInfo resolves against the registry: explicit targetId first,
// then the command's session, then the first registered target.
func (r *Router) getTargetInfo(req Request) (json.RawMessage, bool, error) {
	var p struct {
		TargetID string `json:"targetId"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, false, fmt.Errorf("decoding getTargetInfo params: %w", err)
		}
	}

	var (
		tgt target.Connected
		ok  bool
	)
	switch {
	case p.TargetID != "":
		tgt, ok = r.targets.ByTargetID(p.TargetID)
	case req.SessionID != "":
		tgt, ok = r.targets.BySession(req.SessionID)
	default:
		if all := r.targets.All(); len(all) > 0 {
			tgt, ok = all[0], true
		}
	}

	if !ok {
		return emptyResult, true, nil
	}

	result, err := json.Marshal(map[string]protocol.TargetInfo{"targetInfo": tgt.Info})
	if err != nil {
		return nil, false, fmt.Errorf("encoding target info: %w", err)
	}
	return result, true, nil
}

// getTargets answers from the registry. Every entry is reported with
// attached forced to true: anything the registry holds is attached by
// definition, whatever the stored snapshot says.
func (r *Router) getTargets(Request) (json.RawMessage, bool, error) {
	all := r.targets.All()
	infos := make([]protocol.TargetInfo, 0, len(all))
	for _, t := range all {
		info := t.Info
		info.Attached = true
		infos = append(infos, info)
	}

	result, err := json.Marshal(map[string][]protocol.TargetInfo{"targetInfos": infos})
	if err != nil {
		return nil, false, fmt.Errorf("encoding target list: %w", err)
	}
	return result, true, nil
}

// closeTarget is intercepted only so its handling stays in one place; the
// agent owns target lifecycles, so it always falls through to forwarding.
func (r *Router) closeTarget(Request) (json.RawMessage, bool, error) {
	return nil, false, nil
}
