package sqlagent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/duckmesh/sqlagent/internal/agent"
	"github.com/duckmesh/sqlagent/internal/app"
	"github.com/duckmesh/sqlagent/internal/config"
	"github.com/duckmesh/sqlagent/internal/observability"
	"github.com/duckmesh/sqlagent/internal/sqldb"
)

// Asker runs one query on a thread.
type Asker interface {
	Run(ctx context.Context, threadID, query string, maxIterations int) agent.Response
}

// Tools is the database surface exposed by the tools subcommands.
type Tools interface {
	ListTables(ctx context.Context) sqldb.Result
	Schema(ctx context.Context, tables string) sqldb.Result
	CheckQuery(ctx context.Context, query string) sqldb.Result
	Query(ctx context.Context, query string) sqldb.Result
}

type Options struct {
	Stdin        io.Reader
	Stdout       io.Writer
	Stderr       io.Writer
	LoadConfig   func() (config.Config, error)
	OpenAgent    func(ctx context.Context, cfg config.Config, stderr io.Writer) (Asker, func() error, error)
	OpenDatabase func(ctx context.Context, cfg config.Config) (Tools, func() error, error)
}

var errNotAnswered = errors.New("query was not answered")

// NewRootCommand builds the sqlagent command tree. Zero-valued options fall
// back to the process streams and the environment configuration.
func NewRootCommand(opts Options) *cobra.Command {
	opts = withDefaults(opts)

	root := &cobra.Command{
		Use:           "sqlagent",
		Short:         "Ask questions about a SQL database in natural language",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(opts.Stdin)
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)

	root.AddCommand(
		newAskCommand(opts),
		newChatCommand(opts),
		newToolCommand(opts, "tables", "List the tables the agent can see", cobra.NoArgs,
			func(ctx context.Context, tools Tools, _ []string) sqldb.Result { return tools.ListTables(ctx) }),
		newToolCommand(opts, "schema <table,table>", "Describe tables with sample rows", cobra.ExactArgs(1),
			func(ctx context.Context, tools Tools, args []string) sqldb.Result { return tools.Schema(ctx, args[0]) }),
		newToolCommand(opts, "check <sql>", "Validate a query without running it", cobra.MinimumNArgs(1),
			func(ctx context.Context, tools Tools, args []string) sqldb.Result {
				return tools.CheckQuery(ctx, strings.Join(args, " "))
			}),
		newToolCommand(opts, "query <sql>", "Run a query and print the result table", cobra.MinimumNArgs(1),
			func(ctx context.Context, tools Tools, args []string) sqldb.Result {
				return tools.Query(ctx, strings.Join(args, " "))
			}),
	)
	return root
}

func newAskCommand(opts Options) *cobra.Command {
	var (
		thread        string
		maxIterations int
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a single question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			asker, closeFn, err := opts.OpenAgent(cmd.Context(), cfg, opts.Stderr)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			resp := asker.Run(cmd.Context(), thread, strings.Join(args, " "), maxIterations)
			_, _ = fmt.Fprintln(opts.Stdout, resp.Text)
			if resp.Outcome != agent.OutcomeAnswered {
				return errNotAnswered
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&thread, "thread", "t", "cli", "conversation thread id")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "tool-call budget; 0 uses SQLAGENT_AGENT_MAX_ITERATIONS")
	return cmd
}

func newChatCommand(opts Options) *cobra.Command {
	var thread string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive session on one thread (type 'exit' to quit)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			asker, closeFn, err := opts.OpenAgent(cmd.Context(), cfg, opts.Stderr)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			_, _ = fmt.Fprintln(opts.Stdout, "sqlagent chat (type 'exit' to quit)")
			scanner := bufio.NewScanner(opts.Stdin)
			for {
				_, _ = fmt.Fprint(opts.Stdout, "\n> ")
				if !scanner.Scan() {
					break
				}
				input := strings.TrimSpace(scanner.Text())
				if input == "" {
					continue
				}
				if input == "exit" || input == "quit" {
					break
				}
				resp := asker.Run(cmd.Context(), thread, input, 0)
				_, _ = fmt.Fprintln(opts.Stdout, resp.Text)
			}
			return scanner.Err()
		},
	}
	cmd.Flags().StringVarP(&thread, "thread", "t", "cli-chat", "conversation thread id")
	return cmd
}

func newToolCommand(opts Options, use, short string, args cobra.PositionalArgs, run func(context.Context, Tools, []string) sqldb.Result) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			tools, closeFn, err := opts.OpenDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			result := run(cmd.Context(), tools, args)
			_, _ = fmt.Fprintln(opts.Stdout, result.Text)
			if result.Kind != sqldb.KindOK {
				return fmt.Errorf("%s: %s", cmd.Name(), result.Kind)
			}
			return nil
		},
	}
}

func withDefaults(opts Options) Options {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.LoadConfig == nil {
		opts.LoadConfig = func() (config.Config, error) { return config.LoadFromEnv("sqlagent") }
	}
	if opts.OpenAgent == nil {
		opts.OpenAgent = openAgent
	}
	if opts.OpenDatabase == nil {
		opts.OpenDatabase = openDatabase
	}
	return opts
}

func openAgent(ctx context.Context, cfg config.Config, stderr io.Writer) (Asker, func() error, error) {
	logger := observability.NewLogger(cfg, stderr)
	rt, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		return nil, nil, err
	}
	return rt.Agent, func() error { return rt.Close(context.Background()) }, nil
}

func openDatabase(ctx context.Context, cfg config.Config) (Tools, func() error, error) {
	db, err := app.OpenDatabase(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return db, db.Close, nil
}
