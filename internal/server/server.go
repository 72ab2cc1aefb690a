package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/bolt-labs/boltdash/internal/device"
	"github.com/bolt-labs/boltdash/internal/frame"
	"github.com/bolt-labs/boltdash/internal/logger"
)

// Server is the presentation boundary: it consumes decoded records from the
// reading worker and broadcasts them to WebSocket clients, serves the
// embedded dashboard, and forwards command requests to the tool.
type Server struct {
	cfg      *Config
	webFS    fs.FS
	log      zerolog.Logger
	recorder *logger.Recorder

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex
	upgrader  websocket.Upgrader

	connMu  sync.RWMutex
	conn    device.Conn // write path; nil while disconnected
	dropped uint64      // handoff drops reported by the last session
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// wsFrame is the JSON structure sent to all WebSocket clients.
type wsFrame struct {
	Records []wsRecord     `json:"records,omitempty"`
	Raw     string         `json:"raw,omitempty"` // hex dump of pass-through bytes
	Display *DisplayConfig `json:"display,omitempty"`
	Status  *StatusData    `json:"status,omitempty"`
	Stamp   int64          `json:"stamp"` // unix ms
}

// wsRecord mirrors frame.Record for the wire: channels go out as pointers so
// NaN and the infinities, which encoding/json rejects, serialize as null.
type wsRecord struct {
	Seq      uint64     `json:"seq"`
	Channels []*float64 `json:"channels"`
	Flag1    byte       `json:"flag1"`
	Flag2    byte       `json:"flag2"`
}

// StatusData reports connection state to clients.
type StatusData struct {
	Connected bool   `json:"connected"`
	Port      string `json:"port"`
	Dropped   uint64 `json:"dropped"`
}

// New creates a new Server.
func New(cfg *Config, webFS fs.FS, log zerolog.Logger) *Server {
	lcfg := cfg.LoggingSnapshot()
	return &Server{
		cfg:   cfg,
		webFS: webFS,
		log:   log,
		recorder: logger.New(logger.Config{
			Enabled:    lcfg.Enabled,
			Path:       lcfg.Path,
			IntervalMs: lcfg.Interval,
		}, log),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run serves HTTP until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/command", s.handleCommand)

	addr := s.cfg.ServerSnapshot().ListenAddr
	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		s.recorder.Close()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.log.Info().Str("addr", addr).Msg("listening")
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// SetConn installs (or clears, with nil) the write path for commands and
// informs clients of the connection state change.
func (s *Server) SetConn(conn device.Conn) {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	s.broadcast(wsFrame{Status: s.status(), Stamp: time.Now().UnixMilli()})
}

// Pump consumes the reader's record and raw channels until they close,
// pushing batches to clients at the display redraw interval. It is the only
// consumer of the handoff channels; the returned channel closes when the
// session ends.
func (s *Server) Pump(rd *device.Reader) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		redraw := frame.NewGovernor(time.Duration(s.cfg.DisplaySnapshot().RedrawMs) * time.Millisecond)
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()

		var pending []wsRecord
		var rawDump []byte

		flush := func() {
			if len(pending) == 0 && len(rawDump) == 0 {
				return
			}
			s.broadcast(wsFrame{
				Records: pending,
				Raw:     fmt.Sprintf("% X", rawDump),
				Stamp:   time.Now().UnixMilli(),
			})
			pending = nil
			rawDump = nil
		}

		records := rd.Records()
		raw := rd.Raw()
		for records != nil || raw != nil {
			select {
			case rec, ok := <-records:
				if !ok {
					records = nil
					continue
				}
				s.recorder.Record(rec)
				pending = append(pending, toWire(rec))

			case chunk, ok := <-raw:
				if !ok {
					raw = nil
					continue
				}
				rawDump = appendCapped(rawDump, chunk, rawDumpCap)

			case <-ticker.C:
				if redraw.Allow(time.Now()) {
					flush()
				}
			}
		}
		flush()
		s.connMu.Lock()
		s.dropped = rd.Dropped()
		s.connMu.Unlock()
	}()
	return done
}

// rawDumpCap bounds the hex dump sent per flush; anything past it is cut.
const rawDumpCap = 512

// appendCapped appends chunk to dst, truncating it to whatever budget max
// leaves. dst never grows past max bytes.
func appendCapped(dst, chunk []byte, max int) []byte {
	room := max - len(dst)
	if room <= 0 {
		return dst
	}
	if len(chunk) > room {
		chunk = chunk[:room]
	}
	return append(dst, chunk...)
}

func toWire(rec frame.Record) wsRecord {
	w := wsRecord{
		Seq:      rec.Seq,
		Channels: make([]*float64, frame.NumChannels),
		Flag1:    rec.Flag1,
		Flag2:    rec.Flag2,
	}
	for i, c := range rec.Channels {
		v := float64(c)
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			w.Channels[i] = &v
		}
	}
	return w
}

func (s *Server) status() *StatusData {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return &StatusData{
		Connected: s.conn != nil,
		Port:      s.cfg.SerialSnapshot().PortPath,
		Dropped:   s.dropped,
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	total := len(s.clients)
	s.clientsMu.Unlock()
	s.log.Info().Int("clients", total).Msg("ws client connected")

	// Initial snapshot: display settings plus connection status.
	display := s.cfg.DisplaySnapshot()
	hello := wsFrame{
		Display: &display,
		Status:  s.status(),
		Stamp:   time.Now().UnixMilli(),
	}
	if data, err := json.Marshal(hello); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive / disconnect detection)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			total := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			s.log.Info().Int("clients", total).Msg("ws client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.cfg.Save(); err != nil {
			s.log.Warn().Err(err).Msg("config save failed")
		}
		s.applyConfig()

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// commandRequest is the /api/command payload. The raw form uses the same
// hex-or-literal heuristic as the CLI and is ambiguous for short hex-looking
// text; see frame.EncodeFreeform.
type commandRequest struct {
	Command string `json:"command"` // "configure", "start", "raw"
	Bolt    string `json:"bolt,omitempty"`
	Data    string `json:"data,omitempty"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var payload []byte
	switch req.Command {
	case "configure":
		kind, err := frame.ParseBoltKind(req.Bolt)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		payload, err = frame.EncodeConfigure(kind)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	case "start":
		payload = frame.EncodeStart()
	case "raw":
		payload = frame.EncodeFreeform(req.Data)
	default:
		http.Error(w, fmt.Sprintf("unknown command %q", req.Command), http.StatusBadRequest)
		return
	}

	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn == nil {
		http.Error(w, "not connected", http.StatusServiceUnavailable)
		return
	}
	if _, err := conn.Write(payload); err != nil {
		s.log.Error().Err(err).Msg("command write failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	s.log.Info().Str("command", req.Command).Str("bytes", fmt.Sprintf("% X", payload)).Msg("command sent")

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","bytes":"% X"}`, payload)
}

// ConfigReloaded is the hot-reload hook: it re-applies runtime-togglable
// settings and pushes the new display section to clients.
func (s *Server) ConfigReloaded() {
	s.applyConfig()
}

// applyConfig propagates config fields that take effect without a restart.
func (s *Server) applyConfig() {
	s.recorder.SetEnabled(s.cfg.LoggingSnapshot().Enabled)
	s.BroadcastDisplay()
}

// BroadcastDisplay pushes the current display settings to all clients, e.g.
// after a config edit or hot reload.
func (s *Server) BroadcastDisplay() {
	display := s.cfg.DisplaySnapshot()
	s.broadcast(wsFrame{Display: &display, Stamp: time.Now().UnixMilli()})
}

func (s *Server) broadcast(f wsFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
