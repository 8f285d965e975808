package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	persistlog "puzzleplatform.ai/internal/persistence/log"
	"puzzleplatform.ai/internal/persistence/snapshot"
	"puzzleplatform.ai/internal/sim/manager"
	"puzzleplatform.ai/internal/sim/tuning"
	"puzzleplatform.ai/internal/transport/observer"
	"puzzleplatform.ai/internal/transport/ws"
)

func main() {
	var (
		addr         = flag.String("addr", "127.0.0.1:8080", "http listen address")
		scenarioPath = flag.String("scenario", "./configs/scenario.yaml", "scenario file (empty for the built-in demo)")
		name         = flag.String("name", "", "scenario name recorded in snapshots (default: scenario file name)")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		disableDB    = flag.Bool("disable_db", false, "disable the sqlite run index")
		allowRemote  = flag.Bool("allow_remote", false, "accept control connections from non-loopback addresses")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	scn, scnName, err := loadScenario(*scenarioPath, *name)
	if err != nil {
		logger.Fatalf("load scenario: %v", err)
	}
	_ = os.MkdirAll(*dataDir, 0o755)

	// Optional read-model index (does not affect sim determinism).
	idx, err := openRunIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertScenario(scnName, scn); err != nil {
			logger.Printf("index backend: upsert scenario: %v", err)
		}
	}

	mgr, err := manager.New(scn, manager.Options{
		Logger: log.New(os.Stdout, "[manager] ", log.LstdFlags|log.Lmicroseconds),
		Name:   scnName,
	})
	if err != nil {
		logger.Fatalf("manager: %v", err)
	}

	snapDir := filepath.Join(*dataDir, "snapshots")
	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = snapshot.Latest(snapDir)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.Scenario != "" && snap.Header.Scenario != scnName {
			logger.Fatalf("snapshot scenario mismatch: flag=%s snap=%s", scnName, snap.Header.Scenario)
		}
		if err := mgr.ImportSnapshot(snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), mgr.CurrentTick())
	}

	ctx, cancel := signalContext()
	defer cancel()

	tickLog := persistlog.NewTickLogger(*dataDir)
	runLog := persistlog.NewRunLogger(*dataDir)
	defer tickLog.Close()
	defer runLog.Close()
	if idx != nil {
		mgr.SetTickLogger(multiTickLogger{a: tickLog, b: idx})
		mgr.SetRunRecorder(multiRunRecorder{log: runLog, idx: idx})
	} else {
		mgr.SetTickLogger(tickLog)
		mgr.SetRunRecorder(multiRunRecorder{log: runLog})
	}

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	mgr.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := snapshot.PathForTick(snapDir, snap.Header.Tick)
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				if idx != nil {
					idx.RecordSnapshot(path, snap)
				}
			}
		}
	}()

	go func() {
		if err := mgr.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("manager stopped: %v", err)
		}
	}()

	a := &app{mgr: mgr, name: scnName, idx: idx, log: logger, allowRemote: *allowRemote}
	mux := a.routes(envBool("PP_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()), envBool("PP_ENABLE_PPROF_HTTP", false))

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("scenario=%s platforms=%d tick_rate=%d listening on %s", scnName, len(mgr.IDs()), mgr.TickRateHz(), *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func loadScenario(path, name string) (tuning.Scenario, string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		scn := tuning.Demo()
		scn.Normalize()
		if err := scn.Validate(); err != nil {
			return scn, "", err
		}
		if name == "" {
			name = "demo"
		}
		return scn, name, nil
	}
	scn, err := tuning.Load(path)
	if err != nil {
		return scn, "", err
	}
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return scn, name, nil
}

type app struct {
	mgr         *manager.Manager
	name        string
	idx         runIndex
	log         *log.Logger
	allowRemote bool
}

func (a *app) routes(enableAdmin, enablePprof bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", a.handleMetrics)

	if enableAdmin {
		// Local-only admin endpoints (do not affect simulation determinism).
		mux.HandleFunc("/admin/v1/status", ws.LoopbackOnly(a.handleStatus))
		mux.HandleFunc("/admin/v1/snapshot", ws.LoopbackOnly(a.handleSnapshot))
		mux.HandleFunc("/admin/v1/runs", ws.LoopbackOnly(a.handleRuns))

		obsSrv := observer.NewServer(a.mgr, a.name, a.log)
		mux.HandleFunc("/admin/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/ws", obsSrv.WSHandler())
	} else {
		a.log.Printf("admin endpoints disabled (PP_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	wsSrv := ws.NewServer(a.mgr, a.log)
	wsSrv.AllowRemote = a.allowRemote
	mux.HandleFunc("/v1/ws", wsSrv.Handler())
	return mux
}

func (a *app) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	st := a.mgr.Status()

	playing := 0
	states := map[string]int{}
	for _, p := range st.Platforms {
		if p.Playing {
			playing++
		}
		states[p.State]++
	}

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP platforms_tick Current simulation tick.\n")
	fmt.Fprintf(rw, "# TYPE platforms_tick gauge\n")
	fmt.Fprintf(rw, "platforms_tick{scenario=%q} %d\n", a.name, a.mgr.CurrentTick())

	fmt.Fprintf(rw, "# HELP platforms_total Number of platforms.\n")
	fmt.Fprintf(rw, "# TYPE platforms_total gauge\n")
	fmt.Fprintf(rw, "platforms_total{scenario=%q} %d\n", a.name, len(st.Platforms))

	fmt.Fprintf(rw, "# HELP platforms_playing Platforms with an active sequence.\n")
	fmt.Fprintf(rw, "# TYPE platforms_playing gauge\n")
	fmt.Fprintf(rw, "platforms_playing{scenario=%q} %d\n", a.name, playing)

	fmt.Fprintf(rw, "# HELP platforms_state Platforms per movement state.\n")
	fmt.Fprintf(rw, "# TYPE platforms_state gauge\n")
	keys := make([]string, 0, len(states))
	for k := range states {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(rw, "platforms_state{scenario=%q,state=%q} %d\n", a.name, k, states[k])
	}

	if a.idx == nil {
		return
	}
	s := a.idx.Stats()
	fmt.Fprintf(rw, "# HELP platforms_index_queue_depth Run index write queue depth.\n")
	fmt.Fprintf(rw, "# TYPE platforms_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "platforms_index_queue_depth %d\n", s.QueueDepth)
	fmt.Fprintf(rw, "# HELP platforms_index_dropped_total Index writes dropped because the queue was full.\n")
	fmt.Fprintf(rw, "# TYPE platforms_index_dropped_total counter\n")
	fmt.Fprintf(rw, "platforms_index_dropped_total{kind=%q} %d\n", "tick", s.DropTickTotal)
	fmt.Fprintf(rw, "platforms_index_dropped_total{kind=%q} %d\n", "run", s.DropRunTotal)
	fmt.Fprintf(rw, "platforms_index_dropped_total{kind=%q} %d\n", "snapshot", s.DropSnapshotTotal)
}

func (a *app) handleStatus(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(a.mgr.Status())
}

func (a *app) handleSnapshot(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel2()
	tick, err := a.mgr.RequestSnapshot(ctx2)
	rw.Header().Set("Content-Type", "application/json")
	if err != nil {
		rw.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "tick": tick, "error": err.Error()})
		return
	}
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "tick": tick})
}

// handleRuns lists indexed runs: ?platform=P1&limit=50.
func (a *app) handleRuns(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if a.idx == nil {
		http.Error(rw, "run index disabled", http.StatusNotFound)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(rw, "bad limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel2()
	if err := a.idx.Flush(ctx2); err != nil {
		http.Error(rw, err.Error(), http.StatusServiceUnavailable)
		return
	}
	runs, err := a.idx.RunsFor(ctx2, r.URL.Query().Get("platform"), limit)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	outcomes, err := a.idx.OutcomeCounts(ctx2)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []manager.RunRecord{}
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(struct {
		Runs     []manager.RunRecord `json:"runs"`
		Outcomes map[string]int      `json:"outcomes"`
	}{Runs: runs, Outcomes: outcomes})
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
