package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/foraging-rig/go-controller/internal/stats"
	"github.com/foraging-rig/go-controller/internal/task"
	"github.com/foraging-rig/go-controller/internal/trial"
	"github.com/foraging-rig/go-controller/internal/warning"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10

	clientBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// #region messages
// Inbound is an operator command from a console.
type Inbound struct {
	Type   string `json:"type"`
	Side   string `json:"side,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Outbound is pushed to every console.
type Outbound struct {
	Type    string           `json:"type"`
	Session string           `json:"session,omitempty"`
	Warning *warning.Message `json:"warning,omitempty"`
	Trial   *TrialView       `json:"trial,omitempty"`
	Summary *stats.Summary   `json:"summary,omitempty"`
	Code    string           `json:"code,omitempty"`
	Message string           `json:"message,omitempty"`
}

// TrialView is the compact per-trial line shown on the console.
type TrialView struct {
	Index      int        `json:"trial"`
	Outcome    string     `json:"outcome"`
	RewardProb [2]float64 `json:"reward_prob"`
	Bait       [2]bool    `json:"bait"`
	AutoWater  [2]bool    `json:"auto_water"`
	Warmup     bool       `json:"warmup"`
	LaserOn    bool       `json:"laser_on"`
	BlockCount [2]int     `json:"block_count"`
}

// View projects a committed record onto the console line.
func View(rec trial.Record) TrialView {
	return TrialView{
		Index:      rec.Index,
		Outcome:    string(rec.Outcome),
		RewardProb: rec.RewardProb,
		Bait:       rec.Bait,
		AutoWater:  rec.AutoWater,
		Warmup:     rec.Warmup,
		LaserOn:    rec.Opto.LaserOn,
		BlockCount: rec.BlockCount,
	}
}

// #endregion messages

// #region control
// Control receives operator commands. The session runner implements it.
type Control interface {
	RequestStop(reason string)
	ForceNextBlock()
	ManualWater(side task.Choice) error
}

// #endregion control

// #region hub
type client struct {
	out chan Outbound
}

// Hub fans trial updates and warnings out to websocket consoles and routes
// their commands to a Control. Broadcasts never block the caller; a slow
// console loses its oldest pending message.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	control Control
	session string
	summary *stats.Summary
}

func NewHub() *Hub {
	return &Hub{clients: map[*client]struct{}{}}
}

// Attach sets the session and control that inbound commands are routed to.
func (h *Hub) Attach(sessionID string, c Control) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.session = sessionID
	h.control = c
}

// Clients returns the number of connected consoles.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast pushes out to every connected console.
func (h *Hub) Broadcast(out Outbound) {
	h.mu.Lock()
	if out.Session == "" {
		out.Session = h.session
	}
	if out.Type == "summary" && out.Summary != nil {
		h.summary = out.Summary
	}
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		push(c.out, out)
	}
}

// Warn implements warning.Sink.
func (h *Hub) Warn(m warning.Message) {
	h.Broadcast(Outbound{Type: "warning", Warning: &m})
}

// Trial broadcasts a committed trial and the running summary.
func (h *Hub) Trial(rec trial.Record, sum stats.Summary) {
	v := View(rec)
	h.Broadcast(Outbound{Type: "trial", Trial: &v})
	h.Broadcast(Outbound{Type: "summary", Summary: &sum})
}

func (h *Hub) add() *client {
	c := &client{out: make(chan Outbound, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	last := h.summary
	session := h.session
	h.mu.Unlock()

	push(c.out, Outbound{Type: "subscribed", Session: session})
	if last != nil {
		push(c.out, Outbound{Type: "summary", Session: session, Summary: last})
	}
	return c
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

func (h *Hub) currentControl() Control {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.control
}

// push drops the oldest queued message when the client is full.
func push(ch chan Outbound, out Outbound) {
	select {
	case ch <- out:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- out:
	default:
	}
}

// #endregion hub

// #region handler
// ServeHTTP upgrades the request and serves one console until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := h.add()
	defer h.remove(c)

	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("monitor: set read deadline: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(pingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case out := <-c.out:
				if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		var in Inbound
		if err := conn.ReadJSON(&in); err != nil {
			cancel()
			<-writerDone
			return
		}
		push(c.out, h.handle(in))
	}
}

func (h *Hub) handle(in Inbound) Outbound {
	msgType := strings.ToLower(strings.TrimSpace(in.Type))
	if msgType == "ping" {
		return Outbound{Type: "pong"}
	}
	ctl := h.currentControl()
	if ctl == nil {
		return errorOut("unavailable", "no session attached")
	}
	switch msgType {
	case "stop":
		reason := strings.TrimSpace(in.Reason)
		if reason == "" {
			reason = "operator stop"
		}
		ctl.RequestStop(reason)
	case "next_block":
		ctl.ForceNextBlock()
	case "manual_water":
		side, ok := parseSide(in.Side)
		if !ok {
			return errorOut("invalid_argument", "side must be left or right")
		}
		if err := ctl.ManualWater(side); err != nil {
			return errorOut("internal", err.Error())
		}
	case "":
		return errorOut("invalid_argument", "type is required")
	default:
		return errorOut("invalid_argument", "unsupported type: "+msgType)
	}
	return Outbound{Type: msgType + "_ack"}
}

func parseSide(s string) (task.Choice, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left":
		return task.Left, true
	case "right":
		return task.Right, true
	}
	return task.NoResponse, false
}

func errorOut(code, msg string) Outbound {
	return Outbound{Type: "error", Code: code, Message: msg}
}

// #endregion handler

// #region serve
// Serve runs an HTTP server exposing the hub at /ws and the latest summary
// at /summary until ctx is done.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	mux.HandleFunc("/summary", func(w http.ResponseWriter, _ *http.Request) {
		h.mu.Lock()
		sum := h.summary
		h.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if sum == nil {
			sum = &stats.Summary{}
		}
		_ = json.NewEncoder(w).Encode(sum)
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// #endregion serve
