// Package cli implements the multireq command line tool.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/egorkaBurkenya/multireq-go/transport"
)

var (
	version = "dev"
	commit  = "unknown"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	verbose bool
	engine  string
	rate    float64
	burst   int
}

// engine is a transport together with its counters.
type engine interface {
	transport.Transport
	transport.StatsProvider
	Close()
}

// NewRootCommand builds the command tree writing results to out and
// diagnostics to errOut.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "multireq",
		Short: "Send HTTP requests one at a time or in concurrent batches",
		Long: `multireq sends single HTTP requests or runs batch files of requests
with a bounded number of concurrent transfers.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "enable debug diagnostics")
	pf.StringVar(&g.engine, "engine", "http", "transfer engine: http or fasthttp")
	pf.Float64Var(&g.rate, "rate", 0, "maximum transfers per second (0 disables rate limiting)")
	pf.IntVar(&g.burst, "burst", 1, "rate limiter burst size")

	root.AddCommand(newGetCommand(g), newRunCommand(g))
	return root
}

// Execute runs the command tree on os.Args. It is called by main.main.
func Execute() {
	if err := NewRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (g *globalFlags) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if g.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (g *globalFlags) newEngine(logger *slog.Logger) (engine, error) {
	opts := []transport.EngineOption{transport.WithLogger(logger)}
	if g.rate > 0 {
		opts = append(opts, transport.WithRateLimit(g.rate, g.burst))
	}
	switch g.engine {
	case "http", "":
		return transport.NewHTTP(opts...), nil
	case "fasthttp":
		return transport.NewFastHTTP(opts...), nil
	}
	return nil, fmt.Errorf("unknown engine %q (want http or fasthttp)", g.engine)
}
