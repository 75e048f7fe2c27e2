package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/paperflow/internal/adapters/arxiv"
	"github.com/hugo-lorenzo-mato/paperflow/internal/adapters/craft"
	"github.com/hugo-lorenzo-mato/paperflow/internal/adapters/feishu"
	"github.com/hugo-lorenzo-mato/paperflow/internal/adapters/llm"
	"github.com/hugo-lorenzo-mato/paperflow/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/paperflow/internal/config"
	"github.com/hugo-lorenzo-mato/paperflow/internal/core"
	"github.com/hugo-lorenzo-mato/paperflow/internal/logging"
	"github.com/hugo-lorenzo-mato/paperflow/internal/workflow"
)

// app bundles the wired pipeline for the CLI commands and the server.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	store   core.RunStore
	engine  *workflow.Engine
	analyst *llm.Analyst
	bot     *feishu.Bot
}

// newApp loads configuration and wires the engine with its
// collaborators. Callers must Close when done.
func newApp() (*app, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader = loader.WithConfigFile(cfgFile)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})

	store, err := state.New(cfg.State.Backend, cfg.State.Path)
	if err != nil {
		return nil, err
	}

	fetcher := arxiv.NewFetcher()
	analyst := llm.NewAnalyst(llm.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		AsideModel:  cfg.LLM.AsideModel,
		Temperature: cfg.LLM.Temperature,
	})
	archive := craft.NewClient(craft.Config{
		BaseURL: cfg.Craft.BaseURL,
		Token:   cfg.Craft.Token,
		SpaceID: cfg.Craft.SpaceID,
	}, nil)

	pipeline := workflow.NewPipeline(fetcher, analyst, archive)

	engineOpts := []workflow.EngineOption{
		workflow.WithLogger(logger.Logger),
	}

	var bot *feishu.Bot
	if cfg.Feishu.Enabled() {
		bot = feishu.NewBot(feishu.Config{
			BaseURL:           cfg.Feishu.BaseURL,
			AppID:             cfg.Feishu.AppID,
			AppSecret:         cfg.Feishu.AppSecret,
			VerificationToken: cfg.Feishu.VerificationToken,
		}, nil)
		engineOpts = append(engineOpts, workflow.WithNotifier(bot))
	}

	engine := workflow.NewEngine(store, pipeline, engineOpts...)

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		engine:  engine,
		analyst: analyst,
		bot:     bot,
	}, nil
}

func (a *app) Close() {
	if err := state.Close(a.store); err != nil {
		a.logger.Error("closing state store", "error", err.Error())
	}
}

// printJSON renders a value as indented JSON on stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printRun renders a run for terminal consumption.
func printRun(run *core.Run) {
	fmt.Printf("Run:    %s\n", run.ID)
	fmt.Printf("Source: %s\n", run.Source)
	fmt.Printf("Phase:  %s\n", run.Phase)
	if title := run.Payload.GetString(core.KeyTitle); title != "" {
		fmt.Printf("Title:  %s\n", title)
	}
	if run.Error != "" {
		fmt.Printf("Error:  %s\n", run.Error)
	}
}

// printPrompt renders the decision prompt and the accepted decisions.
func printPrompt(prompt *core.DecisionPrompt) {
	fmt.Println()
	fmt.Println("Decision needed:")
	fmt.Printf("  Title:     %s\n", prompt.Title)
	if prompt.Summary != "" {
		fmt.Printf("  Summary:   %s\n", prompt.Summary)
	}
	fmt.Printf("  Relevance: %d/10\n", prompt.Relevance)
	fmt.Printf("  Suggested: %s\n", prompt.SuggestedAction)
	fmt.Println()
	fmt.Printf("Resume with: paperflow resume %s <deep_read|skim|drop>\n", prompt.RunID)
}
