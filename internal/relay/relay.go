// ABOUTME: Connection manager owning the single controller and agent slots.
// ABOUTME: Wires inbound frames to the router, correlator, and target registry; serves both WebSocket endpoints.

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"tailscale.com/tsnet"

	"github.com/2389/cdp-relay/internal/config"
	"github.com/2389/cdp-relay/internal/protocol"
	"github.com/2389/cdp-relay/internal/target"
)

// Close reasons used on the wire. Slot rejections use a normal closure so
// well-behaved peers do not treat them as transport failures.
const (
	reasonControllerOccupied = "controller already connected"
	reasonAgentOccupied      = "agent already connected"
	reasonAgentLost          = "agent disconnected"
	reasonShutdown           = "relay shutting down"
	reasonMalformedFrame     = "malformed JSON frame"
)

// failAllMessage is the fixed error every pending request receives when the
// agent connection is lost.
const failAllMessage = "connection closed"

// Relay is the bidirectional protocol relay. It owns one controller slot
// and one agent slot, the target registry, and the pending-request table,
// and serves both WebSocket endpoints plus health checks on a single
// listener.
type Relay struct {
	cfg    *config.Config
	logger *slog.Logger

	targets    *target.Registry
	correlator *Correlator
	router     *Router

	upgrader    websocket.Upgrader
	httpServer  *http.Server
	tsnetServer *tsnet.Server

	mu         sync.Mutex
	controller *peer
	agent      *peer
	boundAddr  string
}

// New creates a Relay from the given configuration. The version string is
// echoed in the synthesized Browser.getVersion answer.
func New(cfg *config.Config, version string, logger *slog.Logger) *Relay {
	r := &Relay{
		cfg:     cfg,
		logger:  logger.With("component", "relay"),
		targets: target.NewRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The relay is a local or tailnet-scoped developer tool; the
			// agent extension connects with a browser Origin header that
			// varies by install, so origin checking is not useful here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	r.correlator = NewCorrelator(logger.With("component", "correlator"))
	r.router = NewRouter(r.targets, r, version, logger.With("component", "router"))

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Relay.ControllerPath, r.handleControllerWS)
	mux.HandleFunc(cfg.Relay.AgentPath, r.handleAgentWS)
	mux.HandleFunc("/health", r.handleHealth)
	mux.HandleFunc("/health/ready", r.handleReady)

	r.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return r
}

// Handler exposes the relay's HTTP handler for tests and embedding.
func (r *Relay) Handler() http.Handler {
	return r.httpServer.Handler
}

// Addr returns the bound listen address, available once Run has started.
func (r *Relay) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.boundAddr
}

// ControllerURL returns the WebSocket address a debugging client connects to.
func (r *Relay) ControllerURL() string {
	return "ws://" + r.Addr() + r.cfg.Relay.ControllerPath
}

// AgentURL returns the WebSocket address the browser extension connects to.
func (r *Relay) AgentURL() string {
	return "ws://" + r.Addr() + r.cfg.Relay.AgentPath
}

// Run starts the relay and blocks until the context is canceled or the
// server fails. Shutdown is graceful with the configured timeout.
func (r *Relay) Run(ctx context.Context) error {
	ln, err := r.setupListener(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.boundAddr = ln.Addr().String()
	r.mu.Unlock()

	r.logger.Info("relay listening",
		"addr", ln.Addr().String(),
		"controller_url", r.ControllerURL(),
		"agent_url", r.AgentURL(),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := r.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		r.logger.Info("context canceled, initiating shutdown")
	case serveErr = <-errCh:
		r.logger.Error("server error", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.cfg.Relay.ShutdownTimeout)
	defer cancel()
	shutdownErr := r.Shutdown(shutdownCtx)

	if serveErr != nil {
		return serveErr
	}
	return shutdownErr
}

// Shutdown closes both slots if occupied and releases the listener.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.logger.Info("shutting down relay")

	r.mu.Lock()
	controller, agent := r.controller, r.agent
	r.mu.Unlock()

	if controller != nil {
		controller.closeWith(websocket.CloseGoingAway, reasonShutdown)
	}
	if agent != nil {
		agent.closeWith(websocket.CloseGoingAway, reasonShutdown)
	}

	var errs []error
	if err := r.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if r.tsnetServer != nil {
		if err := r.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// setupListener creates the listener from configuration: tailnet when
// tailscale is enabled, plain TCP otherwise.
func (r *Relay) setupListener(ctx context.Context) (net.Listener, error) {
	if r.cfg.Tailscale.Enabled {
		return r.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", r.cfg.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", r.cfg.Server.HTTPAddr, err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using the default
// under the user's data dir if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "cdp-relay", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener brings up a tsnet node and listens on it.
func (r *Relay) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := r.cfg.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	r.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	r.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := r.tsnetServer.Up(ctx)
	if err != nil {
		_ = r.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	var tsAddr string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	}
	r.logger.Info("tailscale node ready", "hostname", tsCfg.Hostname, "tailscale_ip", tsAddr)

	ln, err := r.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = r.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale port: %w", err)
	}
	return ln, nil
}

// handleControllerWS upgrades and claims the controller slot.
func (r *Relay) handleControllerWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("controller upgrade failed", "error", err, "remote_addr", req.RemoteAddr)
		return
	}
	p := newPeer("controller", conn, r.logger)

	r.mu.Lock()
	if r.controller != nil {
		r.mu.Unlock()
		p.logger.Warn("rejecting second controller connection", "remote_addr", req.RemoteAddr)
		p.closeWith(websocket.CloseNormalClosure, reasonControllerOccupied)
		return
	}
	r.controller = p
	r.mu.Unlock()

	p.logger.Info("controller connected", "remote_addr", req.RemoteAddr)
	r.controllerLoop(p)
}

// controllerLoop reads controller frames until the connection drops. A
// controller disconnect has no cascading effect on the agent slot.
func (r *Relay) controllerLoop(p *peer) {
	defer func() {
		r.mu.Lock()
		if r.controller == p {
			r.controller = nil
		}
		r.mu.Unlock()

		_ = p.conn.Close()
		p.logger.Info("controller disconnected")
	}()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		r.handleControllerFrame(p, data)
	}
}

// handleControllerFrame routes one controller command. Inbound noise from
// the controller is tolerated: unparseable frames are dropped with a log
// line, the connection stays up.
func (r *Relay) handleControllerFrame(p *peer, data []byte) {
	var cmd protocol.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		p.logger.Debug("dropping malformed controller frame", "error", err)
		return
	}

	if !r.agentConnected() {
		r.respondError(p, cmd, ErrAgentUnavailable.Error())
		return
	}

	reply, err := r.router.Route(Request{
		Method:    cmd.Method,
		Params:    cmd.Params,
		SessionID: cmd.SessionID,
	})
	if err != nil {
		p.logger.Error("routing command failed", "method", cmd.Method, "id", cmd.ID, "error", err)
		r.respondError(p, cmd, err.Error())
		return
	}

	if reply.Pending != nil {
		// The round trip suspends here, not the read loop: further
		// controller commands keep flowing while the agent works.
		go r.awaitAgentReply(p, cmd, reply.Pending)
		return
	}

	// Replay attach events ahead of the root auto-attach acknowledgement
	// so the controller learns about targets that attached before it did.
	if cmd.Method == protocol.MethodSetAutoAttach && cmd.SessionID == "" {
		r.replayAttachedTargets(p)
	}

	r.respond(p, cmd, reply.Result)
}

// replayAttachedTargets synthesizes one attachedToTarget event per registry
// entry, tagged as relay-generated.
func (r *Relay) replayAttachedTargets(p *peer) {
	for _, t := range r.targets.All() {
		params, err := json.Marshal(protocol.AttachedToTargetParams{
			SessionID:          t.SessionID,
			TargetInfo:         t.Info,
			WaitingForDebugger: false,
		})
		if err != nil {
			p.logger.Error("encoding attach replay", "session_id", t.SessionID, "error", err)
			continue
		}
		ev := protocol.Event{
			Method: protocol.MethodAttachedToTarget,
			Params: params,
			Origin: protocol.OriginRelay,
		}
		if err := p.writeJSON(ev); err != nil {
			p.logger.Warn("writing attach replay", "session_id", t.SessionID, "error", err)
			return
		}
	}
}

// awaitAgentReply delivers a forwarded command's outcome back to the
// controller that issued it.
func (r *Relay) awaitAgentReply(p *peer, cmd protocol.Command, pending <-chan Outcome) {
	out := <-pending
	if out.Err != "" {
		r.respondError(p, cmd, out.Err)
		return
	}
	r.respond(p, cmd, out.Result)
}

func (r *Relay) respond(p *peer, cmd protocol.Command, result json.RawMessage) {
	if len(result) == 0 {
		result = emptyResult
	}
	resp := protocol.Response{ID: cmd.ID, SessionID: cmd.SessionID, Result: result}
	if err := p.writeJSON(resp); err != nil {
		p.logger.Warn("writing response", "id", cmd.ID, "error", err)
	}
}

func (r *Relay) respondError(p *peer, cmd protocol.Command, msg string) {
	p.logger.Warn("command failed", "method", cmd.Method, "id", cmd.ID, "error", msg)
	resp := protocol.Response{
		ID:        cmd.ID,
		SessionID: cmd.SessionID,
		Error:     &protocol.ResponseError{Message: msg},
	}
	if err := p.writeJSON(resp); err != nil {
		p.logger.Warn("writing error response", "id", cmd.ID, "error", err)
	}
}

// Forward implements Forwarder: wraps the command in the forwarding
// envelope, transmits it to the agent, and registers the pending entry.
// Fails without transmitting when no agent is connected.
func (r *Relay) Forward(method string, params json.RawMessage, sessionID string) (<-chan Outcome, error) {
	r.mu.Lock()
	agent := r.agent
	r.mu.Unlock()

	if agent == nil {
		return nil, ErrAgentUnavailable
	}

	id, ch := r.correlator.Register()
	payload, err := json.Marshal(protocol.ForwardedPayload{
		Method:    method,
		Params:    params,
		SessionID: sessionID,
	})
	if err != nil {
		r.correlator.Reject(id, fmt.Sprintf("encoding forwarded command: %v", err))
		return ch, nil
	}

	env := protocol.Command{ID: id, Method: protocol.ForwardCommandMethod, Params: payload}
	agent.logger.Debug("forwarding command", "method", method, "id", id, "session_id", sessionID)
	if err := agent.writeJSON(env); err != nil {
		r.correlator.Reject(id, fmt.Sprintf("agent write failed: %v", err))
	}
	return ch, nil
}

// handleAgentWS upgrades and claims the agent slot.
func (r *Relay) handleAgentWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("agent upgrade failed", "error", err, "remote_addr", req.RemoteAddr)
		return
	}
	p := newPeer("agent", conn, r.logger)

	r.mu.Lock()
	if r.agent != nil {
		r.mu.Unlock()
		p.logger.Warn("rejecting second agent connection", "remote_addr", req.RemoteAddr)
		p.closeWith(websocket.CloseNormalClosure, reasonAgentOccupied)
		return
	}
	r.agent = p
	r.mu.Unlock()

	p.logger.Info("agent connected", "remote_addr", req.RemoteAddr)
	r.agentLoop(p)
}

// agentLoop reads agent frames until the connection drops or a malformed
// frame forces a close.
func (r *Relay) agentLoop(p *peer) {
	defer r.releaseAgent(p)

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		if !r.handleAgentFrame(p, data) {
			return
		}
	}
}

// releaseAgent empties the agent slot and runs the cascading cleanup:
// every pending request fails, the registry clears, and the controller —
// which has no possible agent anymore — is forcibly closed.
func (r *Relay) releaseAgent(p *peer) {
	r.mu.Lock()
	if r.agent != p {
		r.mu.Unlock()
		_ = p.conn.Close()
		return
	}
	r.agent = nil
	controller := r.controller
	r.mu.Unlock()

	r.correlator.FailAll(failAllMessage)
	r.targets.Clear()
	if controller != nil {
		controller.closeWith(websocket.CloseNormalClosure, reasonAgentLost)
	}

	_ = p.conn.Close()
	p.logger.Info("agent disconnected")
}

// handleAgentFrame processes one agent frame. Returns false when the
// connection must close: unlike the controller side, unparseable JSON from
// the agent is a protocol violation, not noise.
func (r *Relay) handleAgentFrame(p *peer, data []byte) bool {
	var msg protocol.AgentMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		p.logger.Error("malformed agent frame, closing connection", "error", err)
		p.closeWith(websocket.CloseUnsupportedData, reasonMalformedFrame)
		return false
	}

	// An id marks a response to a previously forwarded command.
	if msg.ID != nil {
		if msg.Error != "" {
			r.correlator.Reject(*msg.ID, msg.Error)
		} else {
			r.correlator.Resolve(*msg.ID, msg.Result)
		}
		return true
	}

	if msg.Method != protocol.ForwardEventMethod {
		p.logger.Warn("ignoring unexpected agent method", "method", msg.Method)
		return true
	}

	var fwd protocol.ForwardedPayload
	if err := json.Unmarshal(msg.Params, &fwd); err != nil {
		p.logger.Warn("dropping event envelope with unreadable params", "error", err)
		return true
	}

	r.trackTargetEvent(p, fwd)
	r.forwardEventToController(p, fwd)
	return true
}

// trackTargetEvent keeps the registry authoritative: attach inserts,
// detach removes, everything else passes through untouched.
func (r *Relay) trackTargetEvent(p *peer, fwd protocol.ForwardedPayload) {
	switch fwd.Method {
	case protocol.MethodAttachedToTarget:
		var ap protocol.AttachedToTargetParams
		if err := json.Unmarshal(fwd.Params, &ap); err != nil {
			p.logger.Warn("unreadable attachedToTarget params", "error", err)
			return
		}
		r.targets.Add(ap.SessionID, ap.TargetInfo.TargetID, ap.TargetInfo)
		p.logger.Info("target attached",
			"session_id", ap.SessionID,
			"target_id", ap.TargetInfo.TargetID,
			"url", ap.TargetInfo.URL,
		)

	case protocol.MethodDetachedFromTarget:
		var dp protocol.DetachedFromTargetParams
		if err := json.Unmarshal(fwd.Params, &dp); err != nil {
			p.logger.Warn("unreadable detachedFromTarget params", "error", err)
			return
		}
		r.targets.Remove(dp.SessionID)
		p.logger.Info("target detached", "session_id", dp.SessionID)
	}
}

// forwardEventToController unwraps the envelope and delivers the inner
// event to the controller, tagged as agent-origin. Events with no
// controller to receive them are dropped.
func (r *Relay) forwardEventToController(p *peer, fwd protocol.ForwardedPayload) {
	r.mu.Lock()
	controller := r.controller
	r.mu.Unlock()

	if controller == nil {
		p.logger.Debug("no controller connected, dropping event", "method", fwd.Method)
		return
	}

	ev := protocol.Event{
		Method:    fwd.Method,
		Params:    fwd.Params,
		SessionID: fwd.SessionID,
		Origin:    protocol.OriginAgent,
	}
	if err := controller.writeJSON(ev); err != nil {
		controller.logger.Warn("writing event", "method", fwd.Method, "error", err)
	}
}

func (r *Relay) agentConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agent != nil
}

// handleHealth returns 200 OK if the relay is alive.
func (r *Relay) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once an agent is connected.
func (r *Relay) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !r.agentConnected() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no agent connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d targets)", r.targets.Len())
}
