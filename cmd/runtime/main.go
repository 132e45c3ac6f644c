package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"spacegame.io/internal/persistence/indexdb"
	"spacegame.io/internal/persistence/objstore"
	"spacegame.io/internal/persistence/snapshot"
	"spacegame.io/internal/protocol"
	"spacegame.io/internal/runtime"
	"spacegame.io/internal/sim/tuning"
	"spacegame.io/internal/transport/observer"
	"spacegame.io/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite snapshot index")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[runtime] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	runtimeDir := filepath.Join(*dataDir, "runtime")
	snapDir := filepath.Join(runtimeDir, "snapshots")
	_ = os.MkdirAll(snapDir, 0o755)

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(runtimeDir, "index", "runtime.sqlite"), uuid.NewString())
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.RecordRun("runtime", "runtime"); err != nil {
			logger.Printf("index: record run: %v", err)
		}
		if _, err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index: upsert tuning: %v", err)
		}
	}

	mirror, err := objstore.MirrorFromEnv(*dataDir, log.New(os.Stdout, "[mirror] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("mirror: %v", err)
	}
	defer mirror.Close()
	var recorder runtime.SnapshotRecorder
	if mirror != nil {
		recorder = runtime.Recorders(indexOrNil(idx), mirror)
	} else {
		recorder = indexOrNil(idx)
	}

	toLoad := strings.TrimSpace(*snapPath)
	if toLoad == "" && *loadLatest {
		if p, _, ok, err := snapshot.Latest(snapDir); err != nil {
			logger.Fatalf("find latest snapshot: %v", err)
		} else if ok {
			toLoad = p
		}
	}
	var snap snapshot.SnapshotV1
	if toLoad != "" {
		snap, err = snapshot.ReadSnapshot(toLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s seq=%d entities=%d", filepath.Base(toLoad), snap.Header.Seq, len(snap.Entities))
	} else {
		snap = runtime.GenerateWorld(tune)
		logger.Printf("generated world seed=%d entities=%d", snap.Seed, len(snap.Entities))
	}

	validator, err := protocol.NewValidator()
	if err != nil {
		logger.Fatalf("schemas: %v", err)
	}
	rt, err := runtime.New(snap, runtime.Config{
		FramePeriodMs:     tune.FramePeriodMs,
		CommandRatePerSec: tune.Runtime.CommandRatePerSec,
		CommandBurst:      tune.Runtime.CommandBurst,
	}, validator, logger)
	if err != nil {
		logger.Fatalf("runtime: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	// A fresh world is persisted before any worker connects.
	if toLoad == "" {
		if p, err := rt.WriteSnapshot(snapDir, recorder); err != nil {
			logger.Printf("initial snapshot: %v", err)
		} else {
			logger.Printf("initial snapshot %s", p)
		}
	}

	snapDone := make(chan struct{})
	go func() {
		defer close(snapDone)
		every := time.Duration(tune.Runtime.SnapshotEverySeconds) * time.Second
		rt.RunSnapshots(ctx, snapDir, every, recorder)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		s := rt.Stats()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP spacegame_runtime_workers Connected workers.\n")
		fmt.Fprintf(rw, "# TYPE spacegame_runtime_workers gauge\n")
		fmt.Fprintf(rw, "spacegame_runtime_workers %d\n", s.Workers)
		fmt.Fprintf(rw, "# HELP spacegame_runtime_clients Connected clients.\n")
		fmt.Fprintf(rw, "# TYPE spacegame_runtime_clients gauge\n")
		fmt.Fprintf(rw, "spacegame_runtime_clients %d\n", s.Clients)
		fmt.Fprintf(rw, "# HELP spacegame_runtime_entities Entities in the canonical store.\n")
		fmt.Fprintf(rw, "# TYPE spacegame_runtime_entities gauge\n")
		fmt.Fprintf(rw, "spacegame_runtime_entities %d\n", s.Entities)
		fmt.Fprintf(rw, "# HELP spacegame_runtime_pending_commands Commands routed and not yet answered.\n")
		fmt.Fprintf(rw, "# TYPE spacegame_runtime_pending_commands gauge\n")
		fmt.Fprintf(rw, "spacegame_runtime_pending_commands %d\n", s.PendingCommands)
		fmt.Fprintf(rw, "# HELP spacegame_runtime_commands_total Commands by outcome.\n")
		fmt.Fprintf(rw, "# TYPE spacegame_runtime_commands_total counter\n")
		fmt.Fprintf(rw, "spacegame_runtime_commands_total{outcome=%q} %d\n", "routed", s.CommandsRouted)
		fmt.Fprintf(rw, "spacegame_runtime_commands_total{outcome=%q} %d\n", "failed", s.CommandsFailed)
		fmt.Fprintf(rw, "# HELP spacegame_runtime_updates_total Worker writes by outcome.\n")
		fmt.Fprintf(rw, "# TYPE spacegame_runtime_updates_total counter\n")
		fmt.Fprintf(rw, "spacegame_runtime_updates_total{outcome=%q} %d\n", "accepted", s.UpdatesAccepted)
		fmt.Fprintf(rw, "spacegame_runtime_updates_total{outcome=%q} %d\n", "rejected", s.UpdatesRejected)
		fmt.Fprintf(rw, "# HELP spacegame_runtime_observers Connected observers.\n")
		fmt.Fprintf(rw, "# TYPE spacegame_runtime_observers gauge\n")
		fmt.Fprintf(rw, "spacegame_runtime_observers %d\n", s.Observers)
		if mirror != nil {
			ms := mirror.Stats()
			fmt.Fprintf(rw, "# HELP spacegame_mirror_uploads_total Object storage uploads by outcome.\n")
			fmt.Fprintf(rw, "# TYPE spacegame_mirror_uploads_total counter\n")
			fmt.Fprintf(rw, "spacegame_mirror_uploads_total{outcome=%q} %d\n", "ok", ms.Uploaded)
			fmt.Fprintf(rw, "spacegame_mirror_uploads_total{outcome=%q} %d\n", "failed", ms.Failed)
			fmt.Fprintf(rw, "spacegame_mirror_uploads_total{outcome=%q} %d\n", "dropped", ms.Dropped)
			fmt.Fprintf(rw, "# HELP spacegame_mirror_queue_depth Files waiting for upload.\n")
			fmt.Fprintf(rw, "# TYPE spacegame_mirror_queue_depth gauge\n")
			fmt.Fprintf(rw, "spacegame_mirror_queue_depth %d\n", ms.QueueDepth)
		}
	})
	// Local-only read endpoints.
	mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(struct {
			Stats   runtime.Stats       `json:"stats"`
			Markers []protocol.EntityID `json:"markers"`
		}{rt.Stats(), rt.Markers()})
	})
	mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		p, err := rt.WriteSnapshot(snapDir, recorder)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		logger.Printf("admin snapshot %s", p)
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]string{"path": p})
	})
	obs := observer.NewServer(rt, log.New(os.Stdout, "[observer] ", log.LstdFlags|log.Lmicroseconds))
	mux.HandleFunc("/admin/v1/observer/bootstrap", obs.BootstrapHandler())
	mux.HandleFunc("/admin/v1/observer/ws", obs.WSHandler())
	mux.HandleFunc("/v1/ws", ws.NewServer(rt, validator, logger).Handler())

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

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	<-snapDone
}

// indexOrNil keeps a nil *SQLiteIndex from becoming a non-nil interface.
func indexOrNil(idx *indexdb.SQLiteIndex) runtime.SnapshotRecorder {
	if idx == nil {
		return nil
	}
	return idx
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

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
