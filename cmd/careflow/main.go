// Command careflow runs the appointment agent service: the staged
// workflow, its HTTP API, and the operational surfaces around them.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"careflow/pkg/agent"
	"careflow/pkg/agent/llm"
	llmmetrics "careflow/pkg/agent/middleware/metrics"
	"careflow/pkg/api"
	"careflow/pkg/audit"
	"careflow/pkg/config"
	"careflow/pkg/logx"
	"careflow/pkg/memory"
	"careflow/pkg/metrics"
	"careflow/pkg/persistence"
	"careflow/pkg/prompts"
	"careflow/pkg/resilience"
	"careflow/pkg/resilience/circuit"
	"careflow/pkg/resilience/retry"
	"careflow/pkg/session"
	"careflow/pkg/tools"
	"careflow/pkg/version"
	"careflow/pkg/workflow"
)

// traceSink fans each request trace out to the audit log and records
// per-stage durations.
type traceSink struct {
	audit    *audit.Writer
	recorder llmmetrics.Recorder
}

func (s *traceSink) EmitTrace(ctx context.Context, rec workflow.TraceRecord) error {
	for _, stage := range rec.Stages {
		s.recorder.ObserveStage(stage.Stage, string(stage.Outcome), stage.Duration)
	}
	return s.audit.EmitTrace(ctx, rec)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "careflow: %v\n", err)
		os.Exit(1)
	}
}

//nolint:maintidx // Wiring is sequential by nature
func run() error {
	var configPath string
	var seedPath string
	flag.StringVar(&configPath, "config", "", "Path to settings file")
	flag.StringVar(&seedPath, "seed", "", "Path to a JSON file of schedule slots to seed")
	flag.Parse()

	// Best effort; a missing .env file is fine.
	_ = godotenv.Load()

	if configPath == "" {
		configPath = os.Getenv("CAREFLOW_CONFIG")
	}
	if configPath == "" {
		configPath = "config/settings.yaml"
	}

	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := loadSecrets(configPath, settings); err != nil {
		return err
	}

	logger := logx.NewLogger("main")
	logger.Info("careflow %s starting (provider=%s model=%s)", version.Version, settings.Provider.Name, settings.Provider.Model)

	auditWriter, err := audit.NewWriter(settings.Audit.Dir)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer auditWriter.Close()

	recorder := llmmetrics.NewPrometheusRecorder()

	auditTransition := auditWriter.BreakerTransition()
	breakers := circuit.NewRegistry(
		settings.Resilience.Defaults.Breaker,
		settings.Resilience.BreakerOverrides(),
		func(dependency string, from, to circuit.State) {
			recorder.IncBreakerTransition(dependency, from.String(), to.String())
			auditTransition(dependency, from, to)
		},
	)

	policyFor := func(dependency string) *retry.Policy {
		cfg := settings.Resilience.Defaults.Retry
		if dep, ok := settings.Resilience.Dependencies[dependency]; ok && dep.Retry.MaxAttempts > 0 {
			cfg = dep.Retry
		}
		return retry.NewPolicy(cfg, nil)
	}

	rawClient, err := agent.NewClient(settings.Provider)
	if err != nil {
		return err
	}
	llmPolicy := policyFor(workflow.DependencyLLM)
	stageClient := func(stage string) llm.Client {
		return llm.Chain(rawClient,
			llmmetrics.Middleware(recorder, nil, settings.CostFor, stage, logx.NewLogger("llm")),
			resilience.Middleware(llmPolicy, breakers, workflow.DependencyLLM),
		)
	}

	db, err := persistence.Open(settings.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open schedule database: %w", err)
	}
	defer db.Close()

	if seedPath != "" {
		if err := seedSchedule(db, seedPath); err != nil {
			return err
		}
		logger.Info("seeded schedule from %s", seedPath)
	}

	memClient := memory.NewClient(settings.Memory)

	var sessions *session.Store
	if settings.Session.Addr != "" {
		sessions = session.NewStore(settings.Session)
		defer sessions.Close()
	}

	renderer, err := prompts.NewRenderer()
	if err != nil {
		return fmt.Errorf("failed to load prompt templates: %w", err)
	}

	maxSteps := settings.Workflow.MaxReasoningSteps
	stages := workflow.Stages{
		MemoryRetrieval: workflow.NewMemoryRetrievalStage(memClient, policyFor(workflow.DependencyMemoryRead), breakers),
		Supervisor:      workflow.NewSupervisorStage(stageClient("supervisor"), renderer, auditWriter),
		Information: workflow.NewInformationHandler(stageClient("information_handler"),
			tools.NewInformationRegistry(db), renderer, maxSteps, policyFor(workflow.DependencyLLM), breakers),
		Booking: workflow.NewBookingHandler(stageClient("booking_handler"),
			tools.NewBookingRegistry(db), renderer, maxSteps, policyFor(workflow.DependencyLLM), breakers),
		MemoryStorage: workflow.NewMemoryStorageStage(memClient, stageClient("memory_storage"),
			renderer, policyFor(workflow.DependencyMemoryWrite), breakers),
	}

	sink := &traceSink{audit: auditWriter, recorder: recorder}
	orchestrator, err := workflow.NewOrchestrator(stages, sink, settings.Workflow.RequestTimeout)
	if err != nil {
		return err
	}

	var usage *metrics.QueryService
	if settings.Server.PrometheusURL != "" {
		usage, err = metrics.NewQueryService(settings.Server.PrometheusURL)
		if err != nil {
			return fmt.Errorf("failed to create usage query service: %w", err)
		}
	}

	mux := http.NewServeMux()
	api.NewServer(orchestrator, sessions, breakers, usage).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              settings.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening on %s", settings.Server.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received %s, shutting down", sig)
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// loadSecrets fills the provider API key from the encrypted secrets file
// when the settings and environment leave it empty.
func loadSecrets(configPath string, settings *config.Settings) error {
	if settings.Provider.APIKey != "" || settings.Provider.Name == config.ProviderOllama {
		return nil
	}
	configDir := filepath.Dir(configPath)
	if !config.SecretsFileExists(configDir) {
		return nil
	}
	password, err := config.PromptPassword("Secrets password: ")
	if err != nil {
		return err
	}
	secrets, err := config.DecryptSecretsFile(configDir, password)
	if err != nil {
		return err
	}
	if key, ok := secrets["provider_api_key"]; ok {
		settings.Provider.APIKey = key
	}
	if pw, ok := secrets["redis_password"]; ok && settings.Session.Password == "" {
		settings.Session.Password = pw
	}
	return nil
}

// seedSchedule loads slots from a JSON file and inserts them. Existing
// slots are left untouched.
func seedSchedule(db *persistence.Store, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}
	var slots []persistence.Slot
	if err := json.Unmarshal(raw, &slots); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return db.SeedSlots(ctx, slots)
}
