package monitor

import (
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/foraging-rig/go-controller/internal/stats"
	"github.com/foraging-rig/go-controller/internal/task"
	"github.com/foraging-rig/go-controller/internal/trial"
	"github.com/foraging-rig/go-controller/internal/warning"
)

type fakeControl struct {
	mu       sync.Mutex
	stops    []string
	next     int
	water    []task.Choice
	waterErr error
}

func (f *fakeControl) RequestStop(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, reason)
}

func (f *fakeControl) ForceNextBlock() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
}

func (f *fakeControl) ManualWater(side task.Choice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.waterErr != nil {
		return f.waterErr
	}
	f.water = append(f.water, side)
	return nil
}

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Outbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var out Outbound
	require.NoError(t, conn.ReadJSON(&out))
	return out
}

func TestHubBroadcastsTrialsAndWarnings(t *testing.T) {
	h := NewHub()
	h.Attach("sess-1", &fakeControl{})
	conn := dial(t, h)

	out := read(t, conn)
	require.Equal(t, "subscribed", out.Type)
	require.Equal(t, "sess-1", out.Session)
	require.Equal(t, 1, h.Clients())

	rec := trial.Record{Index: 3, Outcome: trial.OutcomeRewardRight, RewardProb: [2]float64{0.1, 0.7}}
	h.Trial(rec, stats.Summary{Trials: 4, Rewarded: 2})

	out = read(t, conn)
	require.Equal(t, "trial", out.Type)
	require.NotNil(t, out.Trial)
	require.Equal(t, 3, out.Trial.Index)
	require.Equal(t, "RewardRight", out.Trial.Outcome)

	out = read(t, conn)
	require.Equal(t, "summary", out.Type)
	require.Equal(t, 4, out.Summary.Trials)

	warning.Emit(h, warning.Warning, 3, "auto_water", "auto water %s", "both")
	out = read(t, conn)
	require.Equal(t, "warning", out.Type)
	require.Equal(t, "auto water both", out.Warning.Text)
}

func TestHubSendsLastSummaryOnSubscribe(t *testing.T) {
	h := NewHub()
	h.Broadcast(Outbound{Type: "summary", Summary: &stats.Summary{Trials: 9}})
	conn := dial(t, h)

	require.Equal(t, "subscribed", read(t, conn).Type)
	out := read(t, conn)
	require.Equal(t, "summary", out.Type)
	require.Equal(t, 9, out.Summary.Trials)
}

func TestHubRoutesCommands(t *testing.T) {
	ctl := &fakeControl{}
	h := NewHub()
	h.Attach("sess-1", ctl)
	conn := dial(t, h)
	read(t, conn)

	tests := []struct {
		in   Inbound
		want string
	}{
		{Inbound{Type: "ping"}, "pong"},
		{Inbound{Type: "stop"}, "stop_ack"},
		{Inbound{Type: "next_block"}, "next_block_ack"},
		{Inbound{Type: "manual_water", Side: "Left"}, "manual_water_ack"},
		{Inbound{Type: "manual_water", Side: "up"}, "error"},
		{Inbound{Type: "dance"}, "error"},
		{Inbound{}, "error"},
	}
	for _, tt := range tests {
		require.NoError(t, conn.WriteJSON(tt.in))
		require.Equal(t, tt.want, read(t, conn).Type, "command %q", tt.in.Type)
	}

	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	require.Equal(t, []string{"operator stop"}, ctl.stops)
	require.Equal(t, 1, ctl.next)
	require.Equal(t, []task.Choice{task.Left}, ctl.water)
}

func TestHubWithoutControl(t *testing.T) {
	h := NewHub()
	out := h.handle(Inbound{Type: "stop"})
	require.Equal(t, "error", out.Type)
	require.Equal(t, "unavailable", out.Code)

	h.Attach("s", &fakeControl{waterErr: errors.New("valve busy")})
	out = h.handle(Inbound{Type: "manual_water", Side: "right"})
	require.Equal(t, "internal", out.Code)
	require.Equal(t, "valve busy", out.Message)
}

func TestPushDropsOldest(t *testing.T) {
	ch := make(chan Outbound, 2)
	push(ch, Outbound{Type: "a"})
	push(ch, Outbound{Type: "b"})
	push(ch, Outbound{Type: "c"})
	require.Equal(t, "b", (<-ch).Type)
	require.Equal(t, "c", (<-ch).Type)
}
