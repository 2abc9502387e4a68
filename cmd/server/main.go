// Command server runs the scribeflow orchestration service: SQLite-backed
// stores, plan and writer agents, the task runner and the HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/joho/godotenv"

	scribeflow "github.com/scribeflow/scribeflow"
	"github.com/scribeflow/scribeflow/agent"
	"github.com/scribeflow/scribeflow/internal/config"
	"github.com/scribeflow/scribeflow/internal/httpapi"
	"github.com/scribeflow/scribeflow/logging"
	"github.com/scribeflow/scribeflow/model"
	anthropicmodel "github.com/scribeflow/scribeflow/model/anthropic"
	openaimodel "github.com/scribeflow/scribeflow/model/openai"
	"github.com/scribeflow/scribeflow/store"
	"github.com/scribeflow/scribeflow/task"
	"github.com/scribeflow/scribeflow/tool"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.NewJSONLogger(os.Stdout, cfg.LogLevel)

	db, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	mdl, err := buildModel(cfg)
	if err != nil {
		return err
	}

	agents := agent.NewRegistry()
	orch := scribeflow.New(db,
		scribeflow.WithLogger(logger),
		scribeflow.WithAgents(agents),
		scribeflow.WithRunnerOptions(
			task.WithScanInterval(cfg.ScanInterval),
			task.WithTaskTimeout(cfg.TaskTimeout),
		),
	)
	registerAgents(agents, orch, mdl, cfg.StepBudget)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           httpapi.NewServer(orch, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Addr(), "provider", cfg.ModelProvider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := orch.Close(); err != nil {
		logger.Error("orchestrator close failed", "error", err)
	}
	return nil
}

func buildModel(cfg *config.Config) (model.Model, error) {
	switch cfg.ModelProvider {
	case config.ProviderAnthropic:
		return anthropicmodel.NewModel(func(o *anthropicmodel.Options) {
			o.Model = anthropicsdk.Model(cfg.AnthropicModel)
			o.APIKey = cfg.AnthropicAPIKey
		}), nil
	case config.ProviderOpenAI:
		return openaimodel.NewModel(func(o *openaimodel.Options) {
			o.Model = cfg.OpenAIModel
		}), nil
	case config.ProviderMock:
		return model.NewMockModel("mock"), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.ModelProvider)
	}
}

// registerAgents wires the two built-in agents: the plan agent with retrieval,
// artifact and handoff capabilities, and the writer agent with retrieval and
// artifacts.
func registerAgents(agents *agent.Registry, orch *scribeflow.Orchestrator, mdl model.Model, steps int) {
	retriever := &tool.StaticRetriever{}
	search := tool.NewSearchTool(retriever, 5)
	handoffTool := tool.NewHandoffTool(orch.Queue().ToolCreator(), orch.Runner().Kick)
	saveArtifact := newSaveArtifactTool(orch)

	agents.Register(&agent.Definition{
		Name:        agent.PlanAgentName,
		Description: "Research and outline agent driving the planning phase",
		Instructions: "You are a planning assistant. Research the source material, build an " +
			"outline and record it as the plan. When the plan is locked and a handoff brief " +
			"exists, hand off to the writer agent with request_handoff.",
		Steps: steps,
		Model: mdl,
		Tools: []tool.Tool{search, saveArtifact, handoffTool},
	})
	agents.Register(&agent.Definition{
		Name:        "writer",
		Description: "Drafting agent driving the writing phase",
		Instructions: "You are a writing assistant. Draft prose following the plan and the " +
			"handoff brief. Ground factual claims in the source material via search.",
		Steps: steps,
		Model: mdl,
		Tools: []tool.Tool{search, saveArtifact},
	})
}

// newSaveArtifactTool lets agents persist named project artifacts (the plan,
// plan.lock, the handoff brief, drafts) from within a turn.
func newSaveArtifactTool(orch *scribeflow.Orchestrator) tool.Tool {
	return tool.NewFunctionTool(
		"save_artifact",
		"Store a named project artifact such as the plan, plan.lock or the handoff brief. Overwrites any previous content under the same name.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":    map[string]any{"type": "string", "description": "Artifact name"},
				"content": map[string]any{"type": "string", "description": "Artifact content, JSON for structured artifacts"},
			},
			"required": []string{"name", "content"},
		},
		func(tc *tool.Context, args map[string]any) (any, error) {
			name, err := tool.StringArg(args, "name")
			if err != nil {
				return nil, err
			}
			content := tool.OptionalStringArg(args, "content")
			if err := orch.PutArtifact(tc.Ctx, tc.ProjectID, name, []byte(content)); err != nil {
				return nil, err
			}
			return map[string]any{"saved": name}, nil
		},
	)
}
