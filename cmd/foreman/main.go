package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/odvcencio/foreman/pkg/api"
	"github.com/odvcencio/foreman/pkg/bus"
	"github.com/odvcencio/foreman/pkg/clarify"
	"github.com/odvcencio/foreman/pkg/config"
	"github.com/odvcencio/foreman/pkg/logging"
	"github.com/odvcencio/foreman/pkg/orchestrator"
	"github.com/odvcencio/foreman/pkg/storage"
	"github.com/odvcencio/foreman/pkg/task"
	"github.com/odvcencio/foreman/pkg/telemetry"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath    string
		dbPath        string
		listenAddr    string
		natsURL       string
		showVersion   bool
		forceReview   bool
		noQuestions   bool
		withQuestions bool
		useDefaults   bool
		reclarify     bool
		answersFlag   string
	)

	flag.StringVar(&configPath, "config", "", "path to config file (YAML)")
	flag.StringVar(&dbPath, "db", "", "path to task database (overrides config)")
	flag.StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides config)")
	flag.StringVar(&natsURL, "nats", "", "NATS server URL; empty uses the in-memory bus")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.BoolVar(&forceReview, "review", false, "force full review regardless of complexity")
	flag.BoolVar(&noQuestions, "no-questions", false, "skip all clarification")
	flag.BoolVar(&withQuestions, "with-questions", false, "force full clarification")
	flag.BoolVar(&useDefaults, "defaults", false, "apply question defaults without prompting")
	flag.BoolVar(&reclarify, "reclarify", false, "discard cached clarification contexts")
	flag.StringVar(&answersFlag, "answers", "", "pre-supplied answers: \"<idx>:<val> <idx>:<val>\"")
	flag.Parse()

	if showVersion {
		fmt.Printf("foreman %s (%s, built %s)\n", version, commit, buildDate)
		return
	}

	answers, err := task.ParseAnswersFlag(answersFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -answers: %v\n", err)
		os.Exit(2)
	}
	flags := task.Flags{
		Review:        forceReview,
		NoQuestions:   noQuestions,
		WithQuestions: withQuestions,
		Defaults:      useDefaults,
		Reclarify:     reclarify,
		Answers:       answers,
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if dbPath != "" {
		cfg.Storage.Path = dbPath
	}
	if listenAddr != "" {
		cfg.API.Listen = listenAddr
	}
	if natsURL != "" {
		cfg.Bus.URL = natsURL
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, flags); err != nil {
		fmt.Fprintf(os.Stderr, "foreman: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, flags task.Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := logging.NewLogger(cfg.Logging.Dir)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer logger.Close()
	logger.SetMinLevel(logging.Level(cfg.Logging.MinLevel))

	tracer, err := telemetry.NewTracerProvider("foreman")
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer tracer.Shutdown(context.Background())

	store, err := storage.New(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	messageBus, err := openBus(cfg.Bus)
	if err != nil {
		return fmt.Errorf("open bus: %w", err)
	}
	defer messageBus.Close()

	hub := telemetry.NewHub()
	defer hub.Close()

	machine := orchestrator.NewStateMachine(store, messageBus)
	registry := api.NewQuestionRegistry()
	questions := clarify.NewCriteriaQuestionSource(registry)
	gate := clarify.NewGate(cfg.Clarification)
	collector := clarify.NewCollector(gate, store, questions, func(taskID string, contextType task.ContextType) (clarify.AnswerSource, error) {
		return clarify.OpenBusAnswerSource(ctx, messageBus, taskID, contextType)
	})

	engine := orchestrator.NewEngine(cfg, store, machine, collector, logger, hub)
	workers := orchestrator.NewRemoteCapabilities(messageBus, cfg.Bus.Timeout)

	intake, err := subscribeIntake(ctx, messageBus, engine, workers, logger, flags)
	if err != nil {
		return fmt.Errorf("subscribe intake: %w", err)
	}
	defer intake.Unsubscribe()

	server := api.NewServer(cfg.API.Listen, store, messageBus, hub, registry)
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	_ = logger.Info(logging.CategoryEngine, "started", "", "foreman listening", map[string]any{
		"addr":    cfg.API.Listen,
		"version": version,
	})

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func openBus(cfg config.BusConfig) (bus.MessageBus, error) {
	if cfg.URL == "" {
		return bus.NewMemoryBus(), nil
	}
	return bus.NewNATSBus(bus.Config{
		URL:     cfg.URL,
		Name:    cfg.Name,
		Timeout: cfg.Timeout,
	})
}

// submission is the intake payload on the task submit subject.
type submission struct {
	Task *task.Task               `json:"task"`
	Plan *task.ImplementationPlan `json:"plan,omitempty"`
}

// subscribeIntake accepts submitted work and runs a full engine pass for
// each, with workers reached over the bus.
func subscribeIntake(ctx context.Context, messageBus bus.MessageBus, engine *orchestrator.Engine, workers *orchestrator.RemoteCapabilities, logger *logging.Logger, flags task.Flags) (bus.Subscription, error) {
	return messageBus.Subscribe(ctx, bus.TaskSubmitSubject, func(msg *bus.Message) []byte {
		var sub submission
		if err := json.Unmarshal(msg.Data, &sub); err != nil || sub.Task == nil || sub.Task.ID == "" {
			return []byte(`{"error":"invalid submission"}`)
		}
		outcome, err := engine.ProcessTask(ctx, sub.Task, sub.Plan, workers.Capabilities(sub.Task.ID), flags)
		if err != nil {
			_ = logger.Error(logging.CategoryEngine, "process_failed", sub.Task.ID, err.Error(), nil)
			reply, _ := json.Marshal(map[string]string{"error": err.Error()})
			return reply
		}
		reply, _ := json.Marshal(map[string]any{
			"state":    outcome.Task.State,
			"mode":     outcome.Decision.Mode,
			"rejected": outcome.Rejected,
		})
		return reply
	})
}
