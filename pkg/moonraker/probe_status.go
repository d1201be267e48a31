package moonraker

import (
	"sync"

	"klipper-go-migration/pkg/log"
	"klipper-go-migration/pkg/probe"
)

var probeLog = log.New("probe")

// ProbeStatusServer implements probe.UIAdapter on top of the
// Moonraker-compatible Server's WebSocket broadcast plumbing, so a
// Fluidd/Mainsail-style frontend sees status/alert notifications and
// operator prompts for pause_before_deploy_stow probes the same way it
// sees toolhead/heater status.
type ProbeStatusServer struct {
	server *Server

	mu           sync.Mutex
	lastMessage  string
	lastAlert    string
	deployed     bool
	pendingID    int64
	pendingChans map[int64]chan bool
	nextID       int64
}

// NewProbeStatusServer wraps an existing Moonraker Server with probe
// status push notifications. Register it as the object status
// provider for "probe" via server.PrinterAdapter if one is in use.
func NewProbeStatusServer(server *Server) *ProbeStatusServer {
	return &ProbeStatusServer{
		server:       server,
		pendingChans: make(map[int64]chan bool),
	}
}

func (p *ProbeStatusServer) broadcast(method string, params map[string]any) {
	p.server.wsClientMu.RLock()
	defer p.server.wsClientMu.RUnlock()
	notification := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  []any{params},
	}
	for _, client := range p.server.wsClients {
		client.Send(notification)
	}
}

// StatusMessage implements probe.UIAdapter: a transient LCD/host line,
// pushed the way display_status updates are in a real Klipper host.
func (p *ProbeStatusServer) StatusMessage(msg string) {
	p.mu.Lock()
	p.lastMessage = msg
	p.mu.Unlock()
	probeLog.Info(msg)
	p.broadcast("notify_status_update", map[string]any{
		"display_status": map[string]any{"message": msg},
	})
}

// Alert implements probe.UIAdapter: a host-level error banner.
func (p *ProbeStatusServer) Alert(msg string) {
	p.mu.Lock()
	p.lastAlert = msg
	p.mu.Unlock()
	probeLog.Error(msg)
	p.broadcast("notify_gcode_response", map[string]any{
		"message": "!! " + msg,
	})
}

// Confirm implements probe.UIAdapter: prompts the operator over the
// websocket and returns a channel a later RespondConfirm call (driven
// by a client button press or a host console command) resolves.
func (p *ProbeStatusServer) Confirm(prompt string) <-chan bool {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	ch := make(chan bool, 1)
	p.pendingChans[id] = ch
	p.mu.Unlock()

	p.broadcast("notify_probe_confirm_request", map[string]any{
		"id":     id,
		"prompt": prompt,
	})
	return ch
}

// RespondConfirm resolves a pending Confirm() prompt by ID with the
// operator's answer. Server does not call it itself; the code that
// receives the operator's response does.
func (p *ProbeStatusServer) RespondConfirm(id int64, accepted bool) bool {
	p.mu.Lock()
	ch, ok := p.pendingChans[id]
	if ok {
		delete(p.pendingChans, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- accepted
	close(ch)
	return true
}

// Beep implements probe.UIAdapter; there is no physical speaker on a
// host-only build, so it's only tracked as deploy/stow state for the
// status endpoint.
func (p *ProbeStatusServer) Beep(kind probe.BeepKind) {
	p.mu.Lock()
	p.deployed = kind == probe.BeepDeploy
	p.mu.Unlock()
}

// ObjectStatus returns the "probe" printer-object status block this
// server exposes through printer.objects.query/subscribe.
func (p *ProbeStatusServer) ObjectStatus([]string) map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]any{
		"last_z_result": 0.0,
		"deployed":      p.deployed,
		"last_message":  p.lastMessage,
		"last_alert":    p.lastAlert,
	}
}

var _ probe.UIAdapter = (*ProbeStatusServer)(nil)
