package transport

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"forgechat/internal/domain"
)

// testRunner is a minimal in-process stand-in for the agent runner.
type testRunner struct {
	mu    sync.Mutex
	srv   *httptest.Server
	conns []*websocket.Conn
	auth  []string
	onCmd func(conn *websocket.Conn, cmd domain.Command)
}

func startTestRunner(t *testing.T) *testRunner {
	t.Helper()
	r := &testRunner{}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := websocket.Accept(w, req, nil)
		if err != nil {
			return
		}
		r.mu.Lock()
		r.conns = append(r.conns, conn)
		r.auth = append(r.auth, req.Header.Get("Authorization"))
		r.mu.Unlock()

		for {
			var cmd domain.Command
			if err := wsjson.Read(context.Background(), conn, &cmd); err != nil {
				return
			}
			r.mu.Lock()
			fn := r.onCmd
			r.mu.Unlock()
			if fn != nil {
				fn(conn, cmd)
			}
		}
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *testRunner) url() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

func (r *testRunner) push(t *testing.T, ev domain.Event) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.conns) == 0 {
		t.Fatal("no connection to push on")
	}
	conn := r.conns[len(r.conns)-1]
	if err := wsjson.Write(context.Background(), conn, ev); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func (r *testRunner) handle(fn func(conn *websocket.Conn, cmd domain.Command)) {
	r.mu.Lock()
	r.onCmd = fn
	r.mu.Unlock()
}

func dialTest(t *testing.T, r *testRunner, cfg Config) *Client {
	t.Helper()
	cfg.URL = r.url()
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := Dial(ctx, cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCallRoundtrip(t *testing.T) {
	r := startTestRunner(t)
	r.handle(func(conn *websocket.Conn, cmd domain.Command) {
		resp := domain.Event{
			Type:    domain.EventResponse,
			ID:      cmd.ID,
			Cmd:     cmd.Cmd,
			Success: true,
		}
		wsjson.Write(context.Background(), conn, resp)
	})
	c := dialTest(t, r, Config{})

	ev, err := c.Call(context.Background(), domain.Command{Cmd: domain.CmdGetState, SessionID: "ses_1"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !ev.Success || ev.Cmd != domain.CmdGetState {
		t.Errorf("unexpected response: %+v", ev)
	}
}

func TestCallAssignsCorrelationID(t *testing.T) {
	r := startTestRunner(t)
	var gotID string
	var mu sync.Mutex
	r.handle(func(conn *websocket.Conn, cmd domain.Command) {
		mu.Lock()
		gotID = cmd.ID
		mu.Unlock()
		wsjson.Write(context.Background(), conn, domain.Event{
			Type: domain.EventResponse, ID: cmd.ID, Success: true,
		})
	})
	c := dialTest(t, r, Config{})

	if _, err := c.Call(context.Background(), domain.Command{Cmd: domain.CmdGetState}); err != nil {
		t.Fatalf("call: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotID == "" {
		t.Error("command went out without a correlation id")
	}
}

func TestCallTimeout(t *testing.T) {
	r := startTestRunner(t)
	c := dialTest(t, r, Config{CallTimeout: 100 * time.Millisecond})

	_, err := c.Call(context.Background(), domain.Command{Cmd: domain.CmdGetState})
	if err == nil {
		t.Fatal("expected timeout")
	}
}

func TestEventFanout(t *testing.T) {
	r := startTestRunner(t)
	c := dialTest(t, r, Config{})

	got := make(chan domain.Event, 1)
	unsub := c.Subscribe(func(ev domain.Event) {
		select {
		case got <- ev:
		default:
		}
	})
	defer unsub()

	r.push(t, domain.Event{Type: domain.EventAgentIdle, SessionID: "ses_1"})

	select {
	case ev := <-got:
		if ev.Type != domain.EventAgentIdle {
			t.Errorf("event = %q", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never delivered")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	r := startTestRunner(t)
	c := dialTest(t, r, Config{})

	got := make(chan domain.Event, 4)
	unsub := c.Subscribe(func(ev domain.Event) { got <- ev })
	unsub()

	r.push(t, domain.Event{Type: domain.EventAgentIdle})
	time.Sleep(100 * time.Millisecond)
	if len(got) != 0 {
		t.Error("event delivered after unsubscribe")
	}
}

func TestAuthHeaderSent(t *testing.T) {
	r := startTestRunner(t)
	dialTest(t, r, Config{Token: "sekrit"})

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.auth) == 0 || r.auth[0] != "Bearer sekrit" {
		t.Errorf("auth header = %v", r.auth)
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	r := startTestRunner(t)
	c := dialTest(t, r, Config{})
	c.Close()

	err := c.Send(context.Background(), domain.Command{Cmd: domain.CmdAbort})
	if err == nil {
		t.Fatal("expected error after close")
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	if testing.Short() {
		t.Skip("reconnect backoff makes this slow")
	}
	r := startTestRunner(t)

	states := make(chan bool, 8)
	c := dialTest(t, r, Config{
		OnConnChange: func(up bool) { states <- up },
	})

	got := make(chan domain.Event, 1)
	unsub := c.Subscribe(func(ev domain.Event) {
		select {
		case got <- ev:
		default:
		}
	})
	defer unsub()

	// Server drops the connection; the client must redial on its own.
	r.mu.Lock()
	r.conns[0].Close(websocket.StatusGoingAway, "kick")
	r.mu.Unlock()

	waitState := func(want bool) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case up := <-states:
				if up == want {
					return
				}
			case <-deadline:
				t.Fatalf("never saw connected=%v", want)
			}
		}
	}
	waitState(false)
	waitState(true)

	r.push(t, domain.Event{Type: domain.EventAgentIdle})
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no event after reconnect")
	}
}
