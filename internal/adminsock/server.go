// Package adminsock — server.go
//
// Unix domain socket server for occuplex operator overrides.
//
// Protocol: newline-delimited JSON over a Unix domain socket.
// Socket path: /run/occuplex/admin.sock (configurable).
// Permissions: 0600, owned by root. Only root can connect.
//
// Commands (JSON request → JSON response):
//
//   {"cmd":"set_max_capacity","max_capacity":60}
//     → Updates the space-wide capacity limit. If n < current_occupancy,
//       does not evict; future entries are refused until occupancy drops.
//     → Response: {"ok":true,"max_capacity":60}
//
//   {"cmd":"set_status","status":"CLOSED","message":"fire drill"}
//     → Transitions the space status (OPEN, CLOSED, MAINTENANCE).
//     → Response: {"ok":true,"status":"CLOSED"}
//
//   {"cmd":"force_remove_top","n":1}
//     → Evicts the top n ranked occupants (capped at current occupancy).
//     → Response: {"ok":true,"removed":["alice"]}
//
//   {"cmd":"list_scored"}
//     → Returns every open session ranked by removal eligibility.
//     → Response: {"ok":true,"scored":[{"occupant_id":"alice","score":0.71},...]}
//
//   {"cmd":"get_state"}
//     → Returns the current occupancy snapshot.
//     → Response: {"ok":true,"current":12,"max_capacity":50,"status":"OPEN"}
//
//   {"cmd":"ingest_history","observations":[{"timestamp":"...","value":12,"entry_rate":4,"exit_rate":1}]}
//     → Feeds historical occupancy samples to the forecaster's cold-start
//       replay, for backfilling after a restart. entry_rate/exit_rate feed
//       the model's exogenous regressor (net_rate = entry_rate - exit_rate).
//     → Response: {"ok":true,"ingested":120}
//
//   {"cmd":"forecast","k":30}
//     → Projects occupancy k minutes ahead (k clamped to [10,60]).
//     → Response: {"ok":true,"forecast":{"current":12,"net_rate":1.5,
//       "crowd_status":"NORMAL","forecasts":[{"timestamp":"...","value":14,
//       "confidence":0.97},...],"model_state":{"level":12.1,"trend":0.3,"beta":0.2}}}
//
// Security:
//   - Socket is created with 0600 permissions; only root can connect.
//   - Each connection is handled in a separate goroutine.
//   - Max concurrent connections: 4 (operator use only, not high-throughput).
//   - Max request size: 4096 bytes (prevents memory exhaustion).
//   - Connection timeout: 10s read, 10s write.
package adminsock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const (
	maxConcurrentConns = 4
	maxRequestBytes    = 4096
	connTimeout        = 10 * time.Second
)

// ScoredEntry is one ranked session in a list_scored response.
type ScoredEntry struct {
	OccupantID string  `json:"occupant_id"`
	Score      float64 `json:"score"`
}

// Observation is one historical occupancy sample for ingest_history.
// EntryRate/ExitRate feed the forecaster's exogenous regressor as
// net_rate = EntryRate - ExitRate.
type Observation struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	EntryRate float64   `json:"entry_rate,omitempty"`
	ExitRate  float64   `json:"exit_rate,omitempty"`
}

// ForecastPoint is one step of a multi-step forecast response.
type ForecastPoint struct {
	Timestamp  time.Time `json:"timestamp"`
	Value      int       `json:"value"`
	Confidence float64   `json:"confidence"`
}

// ModelState exposes the forecaster's internal smoothing state for
// diagnostics.
type ModelState struct {
	Level float64 `json:"level"`
	Trend float64 `json:"trend"`
	Beta  float64 `json:"beta"`
}

// ForecastResult is the full forecast response: current occupancy, the
// last net_rate fed to the model, the step-ahead forecast, the current
// crowd status, and the model's internal state.
type ForecastResult struct {
	Current     int             `json:"current"`
	NetRate     float64         `json:"net_rate"`
	Forecasts   []ForecastPoint `json:"forecasts"`
	CrowdStatus string          `json:"crowd_status"`
	ModelState  ModelState      `json:"model_state"`
}

// Facade is the interface the admin socket needs from the application
// core. internal/facade.Facade satisfies it.
type Facade interface {
	SetMaxCapacity(max int) error
	SetStatus(status, message string) error
	ForceRemoveTop(n int) ([]string, error)
	ListScored() []ScoredEntry
	GetState() (current, max int, status string)
	IngestHistory(obs []Observation) (int, error)
	Forecast(k int) ForecastResult
}

// Request is the JSON structure for admin commands.
type Request struct {
	Cmd          string        `json:"cmd"`
	MaxCapacity  int           `json:"max_capacity,omitempty"`
	Status       string        `json:"status,omitempty"`
	Message      string        `json:"message,omitempty"`
	N            int           `json:"n,omitempty"`
	K            int           `json:"k,omitempty"`
	Observations []Observation `json:"observations,omitempty"`
}

// Response is the JSON structure for admin command responses.
type Response struct {
	OK          bool            `json:"ok"`
	Error       string          `json:"error,omitempty"`
	MaxCapacity int             `json:"max_capacity,omitempty"`
	Status      string          `json:"status,omitempty"`
	Removed     []string        `json:"removed,omitempty"`
	Scored      []ScoredEntry   `json:"scored,omitempty"`
	Current     int             `json:"current,omitempty"`
	Ingested    int             `json:"ingested,omitempty"`
	Forecast    *ForecastResult `json:"forecast,omitempty"`
}

// Server is the occuplex admin Unix domain socket server.
type Server struct {
	socketPath string
	facade     Facade
	log        *zap.Logger
	sem        chan struct{}
}

// NewServer creates an admin Server.
func NewServer(socketPath string, facade Facade, log *zap.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		facade:     facade,
		log:        log,
		sem:        make(chan struct{}, maxConcurrentConns),
	}
}

// ListenAndServe starts the admin socket server. Removes any stale socket
// file before binding. Blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("adminsock: remove stale socket %q: %w", s.socketPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return fmt.Errorf("adminsock: mkdir %q: %w", filepath.Dir(s.socketPath), err)
	}

	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("adminsock: listen %q: %w", s.socketPath, err)
	}
	defer lis.Close()

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("adminsock: chmod %q: %w", s.socketPath, err)
	}

	s.log.Info("admin socket listening", zap.String("path", s.socketPath))

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Error("adminsock: accept error", zap.Error(err))
				continue
			}
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.log.Warn("adminsock: max connections reached, rejecting")
			_ = conn.Close()
			continue
		}

		go func(c net.Conn) {
			defer func() { <-s.sem }()
			defer c.Close()
			s.handleConn(c)
		}(conn)
	}
}

// handleConn reads one JSON request, executes the command, writes one JSON
// response.
func (s *Server) handleConn(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		s.log.Warn("adminsock: read error", zap.Error(err))
		return
	}

	var req Request
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		s.writeResponse(conn, Response{OK: false, Error: "invalid JSON: " + err.Error()})
		return
	}

	resp := s.dispatch(req)
	s.writeResponse(conn, resp)
}

func (s *Server) dispatch(req Request) Response {
	switch req.Cmd {
	case "set_max_capacity":
		return s.cmdSetMaxCapacity(req)
	case "set_status":
		return s.cmdSetStatus(req)
	case "force_remove_top":
		return s.cmdForceRemoveTop(req)
	case "list_scored":
		return s.cmdListScored()
	case "get_state":
		return s.cmdGetState()
	case "ingest_history":
		return s.cmdIngestHistory(req)
	case "forecast":
		return s.cmdForecast(req)
	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Cmd)}
	}
}

func (s *Server) cmdSetMaxCapacity(req Request) Response {
	if err := s.facade.SetMaxCapacity(req.MaxCapacity); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	s.log.Info("adminsock: max_capacity updated", zap.Int("max_capacity", req.MaxCapacity))
	return Response{OK: true, MaxCapacity: req.MaxCapacity}
}

func (s *Server) cmdSetStatus(req Request) Response {
	if req.Status == "" {
		return Response{OK: false, Error: "status required"}
	}
	if err := s.facade.SetStatus(req.Status, req.Message); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	s.log.Info("adminsock: status updated", zap.String("status", req.Status))
	return Response{OK: true, Status: req.Status}
}

func (s *Server) cmdForceRemoveTop(req Request) Response {
	n := req.N
	if n <= 0 {
		n = 1
	}
	removed, err := s.facade.ForceRemoveTop(n)
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	s.log.Info("adminsock: force_remove_top", zap.Strings("removed", removed))
	return Response{OK: true, Removed: removed}
}

func (s *Server) cmdListScored() Response {
	return Response{OK: true, Scored: s.facade.ListScored()}
}

func (s *Server) cmdGetState() Response {
	current, max, status := s.facade.GetState()
	return Response{OK: true, Current: current, MaxCapacity: max, Status: status}
}

func (s *Server) cmdIngestHistory(req Request) Response {
	n, err := s.facade.IngestHistory(req.Observations)
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	s.log.Info("adminsock: ingest_history", zap.Int("ingested", n))
	return Response{OK: true, Ingested: n}
}

func (s *Server) cmdForecast(req Request) Response {
	k := req.K
	switch {
	case k < 10:
		k = 10
	case k > 60:
		k = 60
	}
	result := s.facade.Forecast(k)
	return Response{OK: true, Forecast: &result}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	_, _ = conn.Write(data)
}
