// Package stream serves a live event stream to viewers over websockets and
// accepts playback commands back from them. It also exposes the run's
// prometheus registry.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/warehouse-sim/warehouse-sim/sim/eventlog"
	"github.com/warehouse-sim/warehouse-sim/sim/replay"
)

const (
	clientBuffer = 256
	writeTimeout = 5 * time.Second
	readTimeout  = 60 * time.Second
)

// ControlMessage is what a viewer sends to steer replay playback.
type ControlMessage struct {
	Command string  `json:"command"`
	Value   float64 `json:"value,omitempty"`
}

var commandNames = map[string]replay.CommandKind{
	"pause":        replay.CmdPause,
	"resume":       replay.CmdResume,
	"toggle_pause": replay.CmdTogglePause,
	"speed_up":     replay.CmdSpeedUp,
	"slow_down":    replay.CmdSlowDown,
	"set_speed":    replay.CmdSetSpeed,
	"seek":         replay.CmdSeek,
	"quit":         replay.CmdQuit,
}

// ParseControl decodes one viewer message.
func ParseControl(b []byte) (replay.Command, error) {
	var m ControlMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return replay.Command{}, err
	}
	kind, ok := commandNames[strings.ToLower(m.Command)]
	if !ok {
		return replay.Command{}, fmt.Errorf("unknown command %q", m.Command)
	}
	return replay.Command{Kind: kind, Value: m.Value}, nil
}

type client struct {
	id  uint64
	out chan []byte
}

// Hub fans encoded records out to every connected viewer. A viewer that
// falls behind loses lines rather than slowing the producer.
type Hub struct {
	registry *prometheus.Registry
	upgrader websocket.Upgrader
	commands chan replay.Command

	mu      sync.Mutex
	clients map[uint64]*client
	closed  bool
	nextID  atomic.Uint64
	dropped atomic.Int64
}

// NewHub builds a hub. A nil registry leaves /metrics unmounted.
func NewHub(reg *prometheus.Registry) *Hub {
	return &Hub{
		registry: reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		commands: make(chan replay.Command, 32),
		clients:  make(map[uint64]*client),
	}
}

// Commands carries viewer control messages, in arrival order.
func (s *Hub) Commands() <-chan replay.Command { return s.commands }

// Dropped is the number of lines slow viewers missed.
func (s *Hub) Dropped() int64 { return s.dropped.Load() }

// Clients is the number of connected viewers.
func (s *Hub) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Publish encodes records and queues them for every viewer.
func (s *Hub) Publish(records []eventlog.Record) {
	if len(records) == 0 {
		return
	}
	lines := make([][]byte, 0, len(records))
	for _, r := range records {
		b, err := eventlog.Encode(r)
		if err != nil {
			logrus.Warnf("stream: encode %s: %v", r.Type, err)
			continue
		}
		lines = append(lines, b)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		for _, b := range lines {
			select {
			case c.out <- b:
			default:
				s.dropped.Add(1)
			}
		}
	}
}

// Attach forwards every batch the log flushes until ctx is done or the log
// is closed. It returns once the subscription is in place.
func (s *Hub) Attach(ctx context.Context, log *eventlog.Log) {
	batches, cancel := log.Subscribe(64)
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case b, ok := <-batches:
				if !ok {
					return
				}
				s.Publish(b)
			}
		}
	}()
}

// Close disconnects every viewer.
func (s *Hub) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, c := range s.clients {
		delete(s.clients, id)
		close(c.out)
	}
}

// Handler mounts /events (websocket), /metrics and /healthz.
func (s *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.serveEvents)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	return mux
}

func (s *Hub) join() (*client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	c := &client{id: s.nextID.Add(1), out: make(chan []byte, clientBuffer)}
	s.clients[c.id] = c
	return c, true
}

func (s *Hub) leave(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.id]; ok {
		delete(s.clients, c.id)
		close(c.out)
	}
}

func (s *Hub) serveEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	c, ok := s.join()
	if !ok {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
		return
	}
	defer s.leave(c)
	logrus.Debugf("stream: viewer %d connected from %s", c.id, r.RemoteAddr)

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for b := range c.out {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "end of stream"), time.Now().Add(time.Second))
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		cmd, err := ParseControl(msg)
		if err != nil {
			logrus.Debugf("stream: viewer %d: %v", c.id, err)
			continue
		}
		select {
		case s.commands <- cmd:
		default:
			// control queue full; the viewer may resend
		}
	}
	s.leave(c)
	select {
	case <-writeDone:
	case <-time.After(500 * time.Millisecond):
	}
	logrus.Debugf("stream: viewer %d disconnected", c.id)
}

// ListenAndServe serves Handler on addr until ctx is done.
func (s *Hub) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logrus.Infof("stream: serving on %s", addr)
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
