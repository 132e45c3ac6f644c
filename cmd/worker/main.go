package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	persistlog "spacegame.io/internal/persistence/log"
	"spacegame.io/internal/persistence/objstore"
	"spacegame.io/internal/sim/tuning"
	"spacegame.io/internal/sim/worker"
	"spacegame.io/internal/transport/ws"
)

func main() {
	var (
		runtimeURL = flag.String("runtime", "ws://localhost:8080/v1/ws", "runtime ws url")
		workerID   = flag.String("worker_id", "", "worker id (default: random)")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		httpAddr   = flag.String("http", ":8081", "health/metrics listen address (empty to disable)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite frame/command index")
	)
	flag.Parse()

	id := strings.TrimSpace(*workerID)
	if id == "" {
		id = "worker-" + uuid.NewString()[:8]
	}
	logger := log.New(os.Stdout, "[worker "+id+"] ", log.LstdFlags|log.Lmicroseconds)

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

	workerDir := filepath.Join(*dataDir, "workers", id)
	_ = os.MkdirAll(workerDir, 0o755)

	idx, err := openWorkerIndex(workerDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.RecordRun("worker", id); err != nil {
			logger.Printf("index: record run: %v", err)
		}
		if _, err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index: upsert tuning: %v", err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	sess, err := ws.DialWorker(ctx, *runtimeURL, id, logger)
	if err != nil {
		logger.Fatalf("connect: %v", err)
	}
	defer sess.Close()

	period := tune.FramePeriod()
	if p := sess.FramePeriod(); p > 0 && p != period {
		logger.Printf("runtime frame period %v overrides tuning %v", p, period)
		period = p
	}

	w := worker.New(worker.Config{
		ID:            id,
		FramePeriod:   period,
		Costs:         tune.Improvements,
		EconomySpeed:  tune.EconomySpeed,
		ClaimMinerals: tune.ClaimMinerals,
	}, sess, logger)

	mirror, err := objstore.MirrorFromEnv(*dataDir, logger)
	if err != nil {
		logger.Fatalf("mirror: %v", err)
	}
	defer mirror.Close()

	frameLog := persistlog.NewFrameLogger(workerDir)
	commandLog := persistlog.NewCommandLogger(workerDir)
	if mirror != nil {
		frameLog.Writer().OnFileClosed(mirror.Enqueue)
		commandLog.Writer().OnFileClosed(mirror.Enqueue)
	}
	defer frameLog.Close()
	defer commandLog.Close()
	w.SetFrameLogger(multiFrameLogger{a: frameLog, b: idx})
	w.SetCommandLogger(multiCommandLogger{a: commandLog, b: idx})

	if *httpAddr != "" {
		srv := &http.Server{
			Addr:              *httpAddr,
			Handler:           metricsMux(w, sess, idx),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-ctx.Done()
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel2()
			_ = srv.Shutdown(ctx2)
		}()
		go func() {
			logger.Printf("metrics on %s", *httpAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("metrics server: %v", err)
			}
		}()
	}

	logger.Printf("connected session=%s frame=%v", sess.SessionID(), period)
	err = w.Run(ctx)
	switch {
	case errors.Is(err, worker.ErrDisconnected):
		logger.Printf("runtime closed the session")
	case errors.Is(err, context.Canceled):
		logger.Printf("shutting down")
	case err != nil:
		logger.Printf("worker stopped: %v", err)
	}
}

func metricsMux(w *worker.Worker, sess *ws.WorkerConn, idx workerIndex) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m := w.Metrics()
		id := m.WorkerID

		// Minimal Prometheus exposition format.
		gauge(rw, "spacegame_worker_frame", "Current worker frame.", id, float64(m.Frame))
		gauge(rw, "spacegame_worker_entities", "Entities in the view cache.", id, float64(m.Entities))
		gauge(rw, "spacegame_worker_planets", "Planets in the view cache.", id, float64(m.Planets))
		gauge(rw, "spacegame_worker_authoritative", "Entities this worker is authoritative for.", id, float64(m.Authoritative))
		gauge(rw, "spacegame_worker_owned_planets", "Authoritative planets with an owner.", id, float64(m.OwnedPlanets))
		gauge(rw, "spacegame_worker_step_ms", "Last frame step duration in milliseconds.", id, m.StepMS)
		counter(rw, "spacegame_worker_updates_sent_total", "Component updates sent.", id, m.UpdatesSent)
		counter(rw, "spacegame_worker_commands_total", "Commands answered.", id, m.CommandsHandled)
		counter(rw, "spacegame_worker_tick_errors_total", "Economy tick errors.", id, m.TickErrors)
		counter(rw, "spacegame_worker_replication_drops_total", "Replication ops dropped as anomalies.", id, m.ReplicationDrops)
		counter(rw, "spacegame_worker_send_drops_total", "Outbound messages dropped by the session.", id, sess.Dropped())

		if idx != nil {
			s := idx.Stats()
			gauge(rw, "spacegame_index_queue_depth", "Index writer queue depth.", id, float64(s.QueueDepth))
			counter(rw, "spacegame_index_dropped_total", "Index rows dropped because the queue was full.", id, s.DropFrameTotal+s.DropCommandTotal)
		}
	})
	return mux
}

func gauge(rw http.ResponseWriter, name, help, workerID string, v float64) {
	fmt.Fprintf(rw, "# HELP %s %s\n# TYPE %s gauge\n%s{worker=%q} %g\n", name, help, name, name, workerID, v)
}

func counter(rw http.ResponseWriter, name, help, workerID string, v uint64) {
	fmt.Fprintf(rw, "# HELP %s %s\n# TYPE %s counter\n%s{worker=%q} %d\n", name, help, name, name, workerID, v)
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
