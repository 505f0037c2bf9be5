package adminsock

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeFacade struct {
	maxCapacity     int
	status          string
	removeTopCalls  []int
	removeTopErr    error
	listScoredResp  []ScoredEntry
	ingestHistoryN  int
	ingestHistErr   error
	setStatusErr    error
	setMaxCapErr    error
}

func (f *fakeFacade) SetMaxCapacity(max int) error {
	if f.setMaxCapErr != nil {
		return f.setMaxCapErr
	}
	f.maxCapacity = max
	return nil
}

func (f *fakeFacade) SetStatus(status, message string) error {
	if f.setStatusErr != nil {
		return f.setStatusErr
	}
	f.status = status
	return nil
}

func (f *fakeFacade) ForceRemoveTop(n int) ([]string, error) {
	f.removeTopCalls = append(f.removeTopCalls, n)
	if f.removeTopErr != nil {
		return nil, f.removeTopErr
	}
	removed := make([]string, 0, n)
	for i := 0; i < n; i++ {
		removed = append(removed, "occupant")
	}
	return removed, nil
}

func (f *fakeFacade) ListScored() []ScoredEntry {
	return f.listScoredResp
}

func (f *fakeFacade) GetState() (int, int, string) {
	return 3, f.maxCapacity, f.status
}

func (f *fakeFacade) IngestHistory(obs []Observation) (int, error) {
	if f.ingestHistErr != nil {
		return 0, f.ingestHistErr
	}
	return len(obs), nil
}

func (f *fakeFacade) Forecast(k int) ForecastResult {
	forecasts := make([]ForecastPoint, 0, k)
	for i := 1; i <= k; i++ {
		forecasts = append(forecasts, ForecastPoint{Timestamp: time.Now().Add(time.Duration(i) * time.Minute), Value: 3, Confidence: 0.5})
	}
	return ForecastResult{Current: 3, NetRate: 0.5, Forecasts: forecasts, CrowdStatus: "NORMAL", ModelState: ModelState{Level: 3, Trend: 0, Beta: 0}}
}

func startTestServer(t *testing.T, facade *fakeFacade) (string, func()) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "admin.sock")
	srv := NewServer(sockPath, facade, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.ListenAndServe(ctx)
		close(done)
	}()

	for i := 0; i < 50; i++ {
		if conn, err := net.Dial("unix", sockPath); err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	return sockPath, func() {
		cancel()
		<-done
	}
}

func sendRequest(t *testing.T, sockPath string, req Request) Response {
	t.Helper()
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("write: %v", err)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var resp Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func TestSetMaxCapacityUpdatesFacade(t *testing.T) {
	facade := &fakeFacade{}
	sockPath, stop := startTestServer(t, facade)
	defer stop()

	resp := sendRequest(t, sockPath, Request{Cmd: "set_max_capacity", MaxCapacity: 42})
	if !resp.OK {
		t.Fatalf("expected OK, got error %q", resp.Error)
	}
	if facade.maxCapacity != 42 {
		t.Fatalf("expected max_capacity 42, got %d", facade.maxCapacity)
	}
}

func TestSetStatusRequiresStatusField(t *testing.T) {
	facade := &fakeFacade{}
	sockPath, stop := startTestServer(t, facade)
	defer stop()

	resp := sendRequest(t, sockPath, Request{Cmd: "set_status"})
	if resp.OK {
		t.Fatal("expected failure with empty status")
	}
}

func TestForceRemoveTopDefaultsToOne(t *testing.T) {
	facade := &fakeFacade{}
	sockPath, stop := startTestServer(t, facade)
	defer stop()

	resp := sendRequest(t, sockPath, Request{Cmd: "force_remove_top"})
	if !resp.OK {
		t.Fatalf("expected OK, got error %q", resp.Error)
	}
	if len(resp.Removed) != 1 {
		t.Fatalf("expected 1 removal by default, got %d", len(resp.Removed))
	}
	if len(facade.removeTopCalls) != 1 || facade.removeTopCalls[0] != 1 {
		t.Fatalf("expected ForceRemoveTop(1), got %v", facade.removeTopCalls)
	}
}

func TestListScoredReturnsFacadeData(t *testing.T) {
	facade := &fakeFacade{listScoredResp: []ScoredEntry{{OccupantID: "alice", Score: 0.9}}}
	sockPath, stop := startTestServer(t, facade)
	defer stop()

	resp := sendRequest(t, sockPath, Request{Cmd: "list_scored"})
	if !resp.OK || len(resp.Scored) != 1 || resp.Scored[0].OccupantID != "alice" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestUnknownCommandReturnsError(t *testing.T) {
	facade := &fakeFacade{}
	sockPath, stop := startTestServer(t, facade)
	defer stop()

	resp := sendRequest(t, sockPath, Request{Cmd: "nonsense"})
	if resp.OK {
		t.Fatal("expected failure for unknown command")
	}
}

func TestIngestHistoryPropagatesError(t *testing.T) {
	facade := &fakeFacade{ingestHistErr: errors.New("boom")}
	sockPath, stop := startTestServer(t, facade)
	defer stop()

	resp := sendRequest(t, sockPath, Request{Cmd: "ingest_history", Observations: []Observation{{Value: 1}}})
	if resp.OK {
		t.Fatal("expected failure propagated from facade")
	}
}

func TestForecastClampsHorizonAndReturnsResult(t *testing.T) {
	facade := &fakeFacade{}
	sockPath, stop := startTestServer(t, facade)
	defer stop()

	resp := sendRequest(t, sockPath, Request{Cmd: "forecast", K: 5})
	if !resp.OK || resp.Forecast == nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(resp.Forecast.Forecasts) != 10 {
		t.Fatalf("expected k clamped to 10, got %d forecast points", len(resp.Forecast.Forecasts))
	}
	if resp.Forecast.CrowdStatus != "NORMAL" {
		t.Fatalf("unexpected crowd status %q", resp.Forecast.CrowdStatus)
	}
}
