// Command convoloop runs a tool-calling code review conversation over a
// diff and archives the transcript.
//
// Usage:
//
//	convoloop review [-config convoloop.toml] [-diff path]   review a diff ("-" reads stdin)
//	convoloop list   [-config convoloop.toml]                list archived conversations
//
// Ctrl-C cancels the run; a cancelled run exits without a result.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/convoloop/convoloop"
	"github.com/convoloop/convoloop/budget"
	"github.com/convoloop/convoloop/conversation/sqlite"
	"github.com/convoloop/convoloop/internal/config"
	"github.com/convoloop/convoloop/logging"
	"github.com/convoloop/convoloop/model"
	"github.com/convoloop/convoloop/review"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "convoloop:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	command := "review"
	if len(args) > 0 && args[0][0] != '-' {
		command = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet("convoloop", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to TOML config (default convoloop.toml)")
	diffPath := fs.String("diff", "-", "diff file to review, - for stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "review":
		return runReview(ctx, cfg, logger, *diffPath)
	case "list":
		return runList(ctx, cfg)
	default:
		return fmt.Errorf("unknown command %q (want review or list)", command)
	}
}

func runReview(ctx context.Context, cfg config.Config, logger logging.Logger, diffPath string) error {
	diff, err := readDiff(diffPath)
	if err != nil {
		return err
	}

	client, err := buildClient(cfg)
	if err != nil {
		return err
	}

	archive, err := sqlite.Open(cfg.Archive.Path, func(o *sqlite.Options) {
		o.Logger = logger
	})
	if err != nil {
		return err
	}
	defer archive.Close()

	loop := convoloop.New(client, func(o *convoloop.Options) {
		o.MaxIterations = cfg.Run.MaxIterations
		o.MaxParallelTools = cfg.Run.MaxParallelTools
		o.EnableSubagents = cfg.Run.EnableSubagents
		o.EnableBudget = cfg.Budget.Enabled
		o.Budget = budget.Settings{
			FinalAnswerRatio:   cfg.Budget.FinalAnswerRatio,
			RemoveRatio:        cfg.Budget.RemoveRatio,
			PreserveIterations: cfg.Budget.PreserveIterations,
		}
		o.Classifier = cfg.Classifier()
		o.Archive = archive
		o.Logger = logger
	})

	result, err := loop.Review(ctx, diff, func(o *review.Options) {
		o.Observer = &progressObserver{out: os.Stderr}
	})
	if err != nil {
		if model.IsUnavailable(err) {
			return fmt.Errorf("model temporarily unavailable, try again: %w", err)
		}
		return err
	}
	if ctx.Err() != nil {
		logger.Info("review.cancelled")
		return nil
	}

	fmt.Println(result)
	return nil
}

func runList(ctx context.Context, cfg config.Config) error {
	archive, err := sqlite.Open(cfg.Archive.Path)
	if err != nil {
		return err
	}
	defer archive.Close()

	summaries, err := archive.List(ctx)
	if err != nil {
		return err
	}
	for _, s := range summaries {
		fmt.Printf("%s  %s  %-12s  %3d messages\n",
			s.ID, s.CreatedAt.Format("2006-01-02 15:04"), s.Label, s.Messages)
	}
	return nil
}

func buildClient(cfg config.Config) (model.Client, error) {
	switch cfg.Model.Provider {
	case "anthropic":
		return newAnthropicClient(cfg), nil
	case "openai":
		return newOpenAIClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (want anthropic or openai)", cfg.Model.Provider)
	}
}

func readDiff(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read diff from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read diff: %w", err)
	}
	return string(data), nil
}
