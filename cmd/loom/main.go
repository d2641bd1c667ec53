package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/loom/internal/chathistory"
	"github.com/rakunlabs/loom/internal/config"
	"github.com/rakunlabs/loom/internal/llmprovider"
	"github.com/rakunlabs/loom/internal/outsink"
	"github.com/rakunlabs/loom/internal/runregistry"
	"github.com/rakunlabs/loom/internal/store"
	"github.com/rakunlabs/loom/internal/store/gitstore"
	"github.com/rakunlabs/loom/internal/store/memory"
	"github.com/rakunlabs/loom/internal/store/postgres"
	"github.com/rakunlabs/loom/internal/store/sqlite3"
	"github.com/rakunlabs/loom/internal/toolbox/httptool"
	"github.com/rakunlabs/loom/internal/transmuter"
	"github.com/rakunlabs/loom/internal/wfexternal"
	"github.com/rakunlabs/loom/internal/wfrunner"
)

var (
	name    = "loom"
	version = "v0.0.0"
)

func main() {
	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	workflowStore, versionStore, err := buildStore(ctx, &cfg.Store)
	if err != nil {
		return fmt.Errorf("build workflow store: %w", err)
	}

	tb := httptool.New(buildTools(cfg.Tools))
	agentFactory, err := buildAgentFactory(cfg, tb)
	if err != nil {
		return fmt.Errorf("build agent factory: %w", err)
	}

	tm := transmuter.New(nil, nil)

	registry, err := runregistry.New(cfg.Cluster)
	if err != nil {
		return fmt.Errorf("build run registry: %w", err)
	}
	go func() {
		if err := registry.Start(ctx); err != nil {
			slog.Error("run registry stopped", "error", err)
		}
	}()

	sinks := buildSinks(&cfg.Outsink)

	_ = versionStore // available to an operator-facing surface; not driven by this REPL

	slog.Info("loom ready", "workflows", mustNames(ctx, workflowStore))

	return repl(ctx, workflowStore, agentFactory, tb, tm, registry, sinks)
}

func mustNames(ctx context.Context, ws wfexternal.WorkflowStore) []string {
	names, err := ws.Names(ctx)
	if err != nil {
		return nil
	}
	return names
}

func buildStore(ctx context.Context, cfg *config.Store) (wfexternal.WorkflowStore, store.WorkflowVersionStore, error) {
	switch {
	case cfg.Postgres != nil:
		s, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case cfg.SQLite != nil:
		s, err := sqlite3.New(ctx, cfg.SQLite)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case cfg.Git != nil:
		s, err := gitstore.New(cfg.Git)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		s := memory.New()
		return s, s, nil
	}
}

func buildAgentFactory(cfg *config.Config, tb wfexternal.Toolbox) (*llmprovider.Factory, error) {
	providers := make(map[string]llmprovider.Provider, len(cfg.Providers))
	var defaultProvider string
	for providerName, pc := range cfg.Providers {
		p, err := buildProvider(pc)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", providerName, err)
		}
		providers[providerName] = p
		if defaultProvider == "" {
			defaultProvider = providerName
		}
	}
	return llmprovider.NewFactory(providers, defaultProvider, tb), nil
}

func buildProvider(pc config.LLMConfig) (llmprovider.Provider, error) {
	switch strings.ToLower(pc.Type) {
	case "anthropic":
		return llmprovider.NewAnthropic(pc.APIKey, pc.Model, pc.BaseURL, pc.Proxy, pc.InsecureSkipVerify)
	case "openai":
		return llmprovider.NewOpenAI(pc.APIKey, pc.Model, pc.BaseURL, pc.Proxy, pc.InsecureSkipVerify, pc.ExtraHeaders)
	case "gemini":
		return llmprovider.NewGemini(pc.APIKey, pc.Model, pc.BaseURL, pc.Proxy, pc.InsecureSkipVerify)
	case "vertex":
		return llmprovider.NewVertex(pc.Model, pc.BaseURL, pc.Proxy, pc.InsecureSkipVerify)
	case "ollama":
		return llmprovider.NewOllama(pc.Model, pc.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", pc.Type)
	}
}

func buildTools(cfgs []config.ToolConfig) []httptool.Tool {
	tools := make([]httptool.Tool, 0, len(cfgs))
	for _, tc := range cfgs {
		t := httptool.Tool{
			Name:           tc.Name,
			Description:    tc.Description,
			InputSchema:    tc.InputSchema,
			URLTemplate:    tc.URL,
			Method:         tc.Method,
			HeaderTemplate: tc.Headers,
			BodyTemplate:   tc.BodyTmpl,
			Proxy:          tc.Proxy,
			InsecureTLS:    tc.Insecure,
		}
		if tc.Timeout != nil {
			t.Timeout = *tc.Timeout
		}
		tools = append(tools, t)
	}
	return tools
}

func buildSinks(cfg *config.Outsink) []outsink.Sink {
	var sinks []outsink.Sink
	if cfg.Email != nil {
		sinks = append(sinks, outsink.NewEmailSink(outsink.EmailConfig{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			To:       cfg.Email.To,
			Subject:  cfg.Email.Subject,
			NoTLS:    cfg.Email.NoTLS,
			Insecure: cfg.Email.Insecure,
		}))
	}
	if cfg.Discord != nil {
		s, err := outsink.NewDiscordSink(outsink.DiscordConfig{
			Token:      cfg.Discord.Token,
			ChannelID:  cfg.Discord.ChannelID,
			WebhookURL: cfg.Discord.WebhookURL,
		})
		if err != nil {
			slog.Error("discord sink disabled", "error", err)
		} else {
			sinks = append(sinks, s)
		}
	}
	if cfg.Telegram != nil {
		s, err := outsink.NewTelegramSink(outsink.TelegramConfig{
			Token:  cfg.Telegram.Token,
			ChatID: cfg.Telegram.ChatID,
		})
		if err != nil {
			slog.Error("telegram sink disabled", "error", err)
		} else {
			sinks = append(sinks, s)
		}
	}
	return sinks
}

// repl is a minimal interactive driver: pick a workflow, then feed it
// prompts until interrupted, mirroring the teacher's read-eval loop in
// cmd/at/main.go but driving a named ShadowGraph through the Runner
// instead of a single hardcoded Agent.
func repl(ctx context.Context, ws wfexternal.WorkflowStore, af wfexternal.AgentFactory, tb wfexternal.Toolbox, tm wfexternal.Transmuter, registry *runregistry.Registry, sinks []outsink.Sink) error {
	names, err := ws.Names(ctx)
	if err != nil {
		return fmt.Errorf("list workflows: %w", err)
	}
	if len(names) == 0 {
		return errors.New("no workflows available; seed the configured store before running loom")
	}
	workflowName := names[0]
	slog.Info("driving workflow", "name", workflowName)

	history := chathistory.New()

	for {
		fmt.Print("Enter your message (or 'quit' to exit): ")
		inputChan := make(chan string, 1)
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			if scanner.Scan() {
				inputChan <- scanner.Text()
			} else {
				inputChan <- ""
			}
		}()

		var msg string
		select {
		case msg = <-inputChan:
		case <-ctx.Done():
			return ctx.Err()
		}
		if msg == "quit" {
			return nil
		}

		graph, err := ws.Load(ctx, workflowName)
		if err != nil {
			return fmt.Errorf("load workflow %q: %w", workflowName, err)
		}

		runner, err := wfrunner.New(graph)
		if err != nil {
			return fmt.Errorf("build runner for %q: %w", workflowName, err)
		}

		runCtx, run := registry.Begin(ctx, workflowName)

		outputs := make(chan wfexternal.OutputMessage, 16)
		collector := outsink.NewCollector()
		fanout := &outsink.Fanout{
			Sinks: append(append([]outsink.Sink{}, sinks...), collector),
			OnErr: func(s outsink.Sink, m wfexternal.OutputMessage, err error) {
				slog.Error("outsink delivery failed", "label", m.Label, "error", err)
			},
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			fanout.Run(runCtx, outputs)
		}()

		rc := &wfexternal.RunContext{
			AgentFactory: af,
			Toolbox:      tb,
			Transmuter:   tm,
			History:      &history,
			Root: wfexternal.RootContext{
				History:    history,
				Workflow:   workflowName,
				UserPrompt: msg,
			},
			Outputs:   outputs,
			Interrupt: run.Interrupt,
			Errors:    make(chan error, 1),
			Graph:     graph,
		}

		err = runner.Run(runCtx, rc)
		close(outputs)
		<-done
		run.Cancel()

		if err != nil && !errors.Is(err, wfrunner.ErrInterrupted) {
			slog.Error("workflow run failed", "workflow", workflowName, "error", err)
			continue
		}

		for _, m := range collector.Ordered() {
			fmt.Printf("[%s] %v\n", m.Label, m.Value)
		}

		if next := rc.NextWorkflow.Load(); next != nil && *next != "" {
			workflowName = *next
		}
	}
}
