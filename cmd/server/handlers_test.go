package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"puzzleplatform.ai/internal/persistence/indexdb"
	"puzzleplatform.ai/internal/persistence/snapshot"
	"puzzleplatform.ai/internal/sim/manager"
	"puzzleplatform.ai/internal/sim/tuning"
)

func newTestApp(t *testing.T, withIndex bool) *app {
	t.Helper()
	scn := tuning.Demo()
	scn.Normalize()
	m, err := manager.New(scn, manager.Options{Name: "demo"})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	a := &app{mgr: m, name: "demo", log: log.New(io.Discard, "", 0)}
	if withIndex {
		idx, err := indexdb.OpenSQLite(filepath.Join(t.TempDir(), "platforms.sqlite"))
		if err != nil {
			t.Fatalf("open index: %v", err)
		}
		t.Cleanup(func() { _ = idx.Close() })
		a.idx = idx
	}
	return a
}

func localRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "127.0.0.1:40000"
	return req
}

func TestMetricsAndStatus(t *testing.T) {
	a := newTestApp(t, false)
	mux := a.routes(true, false)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, localRequest(http.MethodGet, "/metrics"))
	body := rec.Body.String()
	if !strings.Contains(body, `platforms_total{scenario="demo"} 1`) || !strings.Contains(body, `platforms_state{scenario="demo",state="IDLE"} 1`) {
		t.Fatalf("metrics:\n%s", body)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, localRequest(http.MethodGet, "/admin/v1/status"))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"id":"P1"`) {
		t.Fatalf("status %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/v1/status", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("remote status code %d", rec.Code)
	}
}

func TestAdminDisabled(t *testing.T) {
	a := newTestApp(t, false)
	mux := a.routes(false, false)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, localRequest(http.MethodGet, "/admin/v1/status"))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("code %d", rec.Code)
	}
}

func TestRunsEndpoint(t *testing.T) {
	a := newTestApp(t, true)
	mux := a.routes(true, false)

	a.idx.RecordRun(manager.RunRecord{Platform: "P1", Run: 1, EndTick: 5, Outcome: "RETURNED", Commands: "RIGHTx2"})
	a.idx.RecordRun(manager.RunRecord{Platform: "P2", Run: 1, EndTick: 6, Outcome: "FAULTED"})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, localRequest(http.MethodGet, "/admin/v1/runs?platform=P1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("code %d %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Runs     []manager.RunRecord `json:"runs"`
		Outcomes map[string]int      `json:"outcomes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Runs) != 1 || resp.Runs[0].Commands != "RIGHTx2" || resp.Outcomes["FAULTED"] != 1 {
		t.Fatalf("runs %+v", resp)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, localRequest(http.MethodGet, "/admin/v1/runs?limit=x"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit code %d", rec.Code)
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	a := newTestApp(t, false)
	mux := a.routes(true, false)
	sink := make(chan snapshot.SnapshotV1, 1)
	a.mgr.SetSnapshotSink(sink)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.mgr.Run(ctx) }()
	defer func() {
		a.mgr.Stop()
		<-done
	}()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, localRequest(http.MethodGet, "/admin/v1/snapshot"))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET code %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, localRequest(http.MethodPost, "/admin/v1/snapshot"))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Fatalf("POST %d %s", rec.Code, rec.Body.String())
	}
	select {
	case snap := <-sink:
		if snap.Header.Scenario != "demo" {
			t.Fatalf("header %+v", snap.Header)
		}
	case <-time.After(time.Second):
		t.Fatalf("snapshot not delivered")
	}
}

func TestLoadScenario(t *testing.T) {
	scn, name, err := loadScenario("", "")
	if err != nil || name != "demo" || len(scn.Platforms) != 1 {
		t.Fatalf("demo: %q %v", name, err)
	}

	path := filepath.Join(t.TempDir(), "lobby.yaml")
	doc := "platforms:\n  - id: A\n    area: {min: [0, 0, 0], max: [2, 2, 2]}\n    commands: [up]\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	scn, name, err = loadScenario(path, "")
	if err != nil || name != "lobby" || scn.Platforms[0].ID != "A" {
		t.Fatalf("file: %q %+v %v", name, scn.Platforms, err)
	}
	if _, name, _ = loadScenario(path, "custom"); name != "custom" {
		t.Fatalf("name override: %q", name)
	}
}
