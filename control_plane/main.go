package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fluxforge/orchestrator/control_plane/agentpool"
	"github.com/fluxforge/orchestrator/control_plane/cachekit"
	"github.com/fluxforge/orchestrator/control_plane/collaborators"
	"github.com/fluxforge/orchestrator/control_plane/config"
	"github.com/fluxforge/orchestrator/control_plane/coordination"
	"github.com/fluxforge/orchestrator/control_plane/coordinator"
	"github.com/fluxforge/orchestrator/control_plane/executors"
	"github.com/fluxforge/orchestrator/control_plane/idempotency"
	"github.com/fluxforge/orchestrator/control_plane/logging"
	"github.com/fluxforge/orchestrator/control_plane/metrics"
	"github.com/fluxforge/orchestrator/control_plane/orchestrator"
	"github.com/fluxforge/orchestrator/control_plane/scheduler"
	"github.com/fluxforge/orchestrator/control_plane/scorers"
	"github.com/fluxforge/orchestrator/control_plane/statusfeed"
	"github.com/fluxforge/orchestrator/control_plane/store"
	"github.com/fluxforge/orchestrator/control_plane/streaming"
	"github.com/fluxforge/orchestrator/control_plane/timeline"
	"github.com/fluxforge/orchestrator/control_plane/types"
	"github.com/fluxforge/orchestrator/control_plane/verify"
)

// generateNodeID identifies this replica for leader-election fencing.
func generateNodeID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "node"
	}
	return hostname + "-" + strconv.FormatInt(time.Now().UnixNano(), 36)
}

func main() {
	cfg := config.Default()
	if path := os.Getenv("ORCHESTRATOR_CONFIG"); path != "" {
		loaded, err := config.LoadFile(cfg, path)
		if err != nil {
			logging.New(os.Stdout, true, zerolog.InfoLevel).Fatal().Err(err).Str("path", path).Msg("failed to load config file")
		}
		cfg = loaded
	}
	cfg = config.LoadEnv(cfg)
	if err := cfg.Validate(); err != nil {
		logging.New(os.Stdout, true, zerolog.InfoLevel).Fatal().Err(err).Msg("invalid configuration")
	}

	pretty := cfg.LogFormat != "json"
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := logging.New(os.Stdout, pretty, level)
	ctx := logging.WithLogger(context.Background(), log)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Persistence: Redis when configured (also doubles as the HA lease
	// backend), otherwise a single-process in-memory store.
	var s store.Store
	var redisStore *store.RedisStore
	if cfg.RedisAddr != "" {
		rs, rsErr := store.NewRedisStore(cfg.RedisAddr, "", 0)
		if rsErr != nil {
			log.Warn().Err(rsErr).Str("addr", cfg.RedisAddr).Msg("failed to connect to redis; falling back to in-memory store")
		} else {
			redisStore = rs
		}
	}
	if redisStore != nil {
		s = redisStore
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis store")
	} else {
		s = store.NewMemoryStore()
		log.Info().Msg("using in-memory store (ephemeral, single-process only)")
	}

	streamPublisher := streaming.Publisher(streaming.NewLogPublisher())
	defer streamPublisher.Close()

	tl := timeline.NewStore(cfg.ScalingHistorySize)
	cache := cachekit.New(cachekit.Strategy(cfg.CacheStrategy), cfg.CacheTTL, cfg.CacheMaxEntries)
	aggregator := metrics.NewAggregator(cfg.MetricsRetention)

	sched := scheduler.New(scheduler.Config{
		IntakeCapacity: cfg.IntakeCapacity,
		RetryBase:      cfg.RetryBase,
		RetryCeiling:   cfg.RetryCeiling,
		StarvationAge:  cfg.StarvationAge,
		QueueThreshold: cfg.IntakeCapacity,
	}, nil)

	registry := agentpool.New(sched, cfg.TombstoneGrace)
	sched.SetAgentView(registry)

	var idemBackend idempotency.Backend
	if redisStore != nil {
		idemBackend = idempotency.NewRedisBackend(redisStore)
	} else {
		idemBackend = idempotency.NewMemoryBackend(10 * time.Minute)
	}
	idemStore := idempotency.NewStore(idemBackend)

	var scorer collaborators.Scorer
	if endpoint := os.Getenv("SCORER_ENDPOINT"); endpoint != "" {
		scorer = scorers.NewHTTPScorer(endpoint, cfg.ScorerTimeout)
		log.Info().Str("endpoint", endpoint).Msg("using remote scorer collaborator")
	} else {
		scorer = scorers.NewTokenOverlapScorer()
		log.Info().Msg("using token-overlap scorer (no SCORER_ENDPOINT configured)")
	}

	checks := []verify.Check{
		{Name: "output-shape", Threshold: 0.5, Required: true, Fn: verify.OutputShape()},
		{Name: "length-bounds", Threshold: 0.5, Required: false, Fn: verify.LengthBounds(1, 100_000)},
	}
	initialThresholds := types.Thresholds{
		Confidence: cfg.ConfidenceThresholdMin,
		Rules:      map[string]float64{"output-shape": 0.5, "length-bounds": 0.5},
	}
	pipeline := verify.New(scorer, checks, initialThresholds)
	window := verify.NewWindow(cfg.OutcomeWindowSize)
	tuner := verify.NewTuner(window, pipeline, verify.TunerConfig{
		AdaptationWindow:         cfg.AdaptationWindow,
		MinSamplesForAdaptation:  cfg.MinSamplesForAdaptation,
		ConfidenceThresholdMin:   cfg.ConfidenceThresholdMin,
		ConfidenceThresholdMax:   cfg.ConfidenceThresholdMax,
		RuleThresholdMin:         cfg.RuleThresholdMin,
		RuleThresholdMax:         cfg.RuleThresholdMax,
		WeightAccuracy:           cfg.WeightAccuracy,
		WeightEfficiency:         cfg.WeightEfficiency,
		WeightSuccess:            cfg.WeightSuccess,
		RecommendationConfidence: cfg.RecommendationConfidence,
		ExpectedImprovementGate:  cfg.ExpectedImprovementGate,
	}, 5)

	var executor collaborators.Executor
	if endpoint := os.Getenv("EXECUTOR_ENDPOINT"); endpoint != "" {
		executor = executors.NewHTTPExecutor(map[string]string{"default": endpoint}, cfg.ExecutorTimeout)
		log.Info().Str("endpoint", endpoint).Msg("using remote HTTP executor collaborator")
	} else {
		// No executor configured: TaskRunner still claims and verifies
		// work in shadow mode so the scheduler/verify loop is exercisable
		// without a live agent process.
		executor = collaborators.ExecutorFunc(func(ctx context.Context, task *types.Task, caps []types.Capability) (collaborators.ExecutionResult, error) {
			return collaborators.ExecutionResult{Output: "", Success: false}, nil
		})
		log.Warn().Msg("no EXECUTOR_ENDPOINT configured; tasks will be claimed but not meaningfully executed")
	}

	runner := NewTaskRunner(sched, registry, executor, pipeline, window, s, streamPublisher, cfg.ExecutorTimeout)
	go runTaskRunnerLoop(ctx, runner, registry)

	core := coordinator.New(sched, registry, cache, pipeline, window, s, tl)

	// Optional HA coordination: off unless both HAEnabled
	// and a Redis-backed store are configured.
	var elector *coordination.LeaderElector
	if cfg.HAEnabled && redisStore != nil {
		elector = coordination.NewLeaderElector(redisStore, s, generateNodeID(), 30*time.Second)
		elector.SetCallbacks(
			func(ctx context.Context) { log.Info().Msg("elected leader; this replica now owns the authoritative core") },
			func() { log.Warn().Msg("lost leadership") },
		)
		elector.Start(ctx)

		janitor := coordination.NewLockJanitor(redisStore, s, 60*time.Second)
		janitor.Start(ctx)
		log.Info().Msg("HA coordination enabled")
	} else if cfg.HAEnabled {
		log.Warn().Msg("HA_ENABLED set but no redis_addr configured; running standalone")
	}

	agentMonitor := coordination.NewAgentMonitor(s, 5*time.Second, cfg.TombstoneGrace)
	agentMonitor.Start(ctx)

	tombstoneJanitor := coordination.NewTombstoneJanitor(registry, cfg.TombstoneGrace/2+time.Second)
	tombstoneJanitor.Start(ctx)

	metricsSource := &scalingMetricsSource{sched: sched, aggregator: aggregator}
	const defaultAgentMemoryCapacity = 200
	autoscaler := agentpool.NewAutoScaler(registry, metricsSource, tl, defaultPolicies(), cfg.MinAgents, cfg.MaxAgents, defaultAgentMemoryCapacity)
	go autoscaler.Run(ctx, cfg.EvaluationInterval)

	go runAdaptationLoop(ctx, tuner, core, cfg.AdaptationFrequency)
	go runSchedulerMaintenance(ctx, sched)

	hub := statusfeed.NewHub(&statusSnapshotSource{registry: registry, sched: sched, elector: elector, timeline: tl})
	go hub.Run(ctx, 2*time.Second)

	mux := http.NewServeMux()
	registerHTTPHandlers(mux, core, idemStore, hub, log)

	srv := &http.Server{Addr: ":8080", Handler: mux}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("orchestrator listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	cancel()
}

// defaultPolicies returns a conservative starter auto-scaling policy set:
// scale up under queue pressure, scale down when idle.
func defaultPolicies() []*agentpool.Policy {
	return []*agentpool.Policy{
		{
			ID:       "queue-depth-scale-up",
			Priority: 10,
			Trigger: agentpool.Trigger{
				Kind:      agentpool.TriggerQueueDepth,
				Threshold: 50,
			},
			Action: agentpool.Action{
				Kind:         agentpool.ActionScaleUp,
				Count:        2,
				NewAgentKind: types.Worker(),
			},
			Cooldown: 30 * time.Second,
		},
		{
			ID:       "low-utilization-scale-down",
			Priority: 5,
			Trigger: agentpool.Trigger{
				Kind:           agentpool.TriggerUtilizationBand,
				MinUtilization: 0.2,
				MaxUtilization: 1.0,
				// SustainedFor is read only by queue-depth triggers; this
				// trigger fires on the first tick below MinUtilization.
				SustainedFor: 2 * time.Minute,
			},
			Action: agentpool.Action{
				Kind:      agentpool.ActionScaleDown,
				DownCount: 1,
				Strategy:  agentpool.StrategyLeastRecentlyUsed,
			},
			Cooldown: time.Minute,
		},
	}
}

func runAdaptationLoop(ctx context.Context, tuner *verify.Tuner, core *coordinator.Coordinator, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log := logging.Component(ctx, "adaptation")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result := tuner.Sweep()
			core.NoteAdaptation(time.Now())
			log.Info().Bool("applied", result.Applied).Msg("adaptation sweep complete")
		}
	}
}

// runTaskRunnerLoop drives every idle agent's work-claim loop. Each
// in-process agent is represented only by its registry entry: this
// goroutine plays the role the teacher's per-node agent process played,
// pulling one task at a time per agent and handing it to TaskRunner.
func runTaskRunnerLoop(ctx context.Context, runner *TaskRunner, registry *agentpool.Registry) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	log := logging.Component(ctx, "task_runner_loop")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, agent := range registry.Snapshot() {
				if agent.State != types.AgentIdle || runner.IsAgentBusy(agent.ID) {
					continue
				}
				go func(agentID string) {
					if err := runner.RunOnce(ctx, agentID); err != nil {
						log.Warn().Err(err).Str("agent_id", agentID).Msg("task run failed")
					}
				}(agent.ID)
			}
		}
	}
}

// runSchedulerMaintenance periodically drains the retry queue and
// promotes starved tasks.
func runSchedulerMaintenance(ctx context.Context, sched *scheduler.Scheduler) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sched.ReleaseRetries()
			sched.PromoteStarved(time.Now())
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// registerHTTPHandlers wires the thin external adapter over
// orchestrator.Core — an external HTTP layer adapting to the in-process
// API rather than being part of it.
func registerHTTPHandlers(mux *http.ServeMux, core orchestrator.Core, idemStore *idempotency.Store, hub *statusfeed.Hub, log zerolog.Logger) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		idemKey := r.Header.Get("Idempotency-Key")
		execute := func(ctx context.Context) (idempotency.Response, error) {
			var task types.Task
			if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
				return idempotency.Response{StatusCode: http.StatusBadRequest}, nil
			}
			id, err := core.SubmitTask(ctx, &task)
			if err != nil {
				return idempotency.Response{StatusCode: http.StatusServiceUnavailable}, nil
			}
			body, _ := json.Marshal(map[string]string{"task_id": id})
			return idempotency.Response{StatusCode: http.StatusAccepted, Body: body}, nil
		}

		var resp idempotency.Response
		var err error
		if idemKey != "" {
			resp, err = idemStore.Execute(r.Context(), idemKey, execute)
		} else {
			resp, err = execute(r.Context())
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(resp.StatusCode)
		w.Write(resp.Body)
	})

	mux.HandleFunc("/tasks/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/tasks/"):]
		task, err := core.GetTask(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(task)
	})

	mux.HandleFunc("/agents", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			agents, _ := core.ListAgents(r.Context())
			json.NewEncoder(w).Encode(agents)
		case http.MethodPost:
			var req struct {
				Kind           types.AgentKind    `json:"kind"`
				Capabilities   []types.Capability `json:"capabilities"`
				MemoryCapacity int                `json:"memory_capacity"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			id, err := core.CreateAgent(r.Context(), req.Kind, req.Capabilities, req.MemoryCapacity)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"agent_id": id})
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/agents/retire/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/agents/retire/"):]
		if err := core.RetireAgent(r.Context(), id, "admin request"); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(core.GetStatus(r.Context()))
	})

	mux.HandleFunc("/adaptation", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(core.GetAdaptationInsights(r.Context()))
	})

	mux.HandleFunc("/status/stream", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("status feed upgrade failed")
			return
		}
		hub.Register(conn)
	})
}
