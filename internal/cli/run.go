package cli

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	multireq "github.com/egorkaBurkenya/multireq-go"
	"github.com/egorkaBurkenya/multireq-go/metrics"
	"github.com/egorkaBurkenya/multireq-go/response"
)

type runFlags struct {
	concurrency int
	wait        int
	strict      bool
	envFiles    []string
	metricsFile string
}

func newRunCommand(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Run a TOML or YAML batch file of requests",
		Long: `run loads a batch file with a [common] option table and a list of
[[request]] entries, sends them with bounded concurrency and prints one
row per completed request.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, g, f, args[0])
		},
	}
	fl := cmd.Flags()
	fl.IntVarP(&f.concurrency, "concurrency", "k", 0, "concurrent transfers (overrides the batch file, default 5)")
	fl.IntVar(&f.wait, "wait", 0, "seconds to wait for a finished transfer before polling again")
	fl.BoolVar(&f.strict, "strict", false, "never start more transfers than --concurrency")
	fl.StringArrayVar(&f.envFiles, "env-file", nil, "dotenv file for ${VAR} expansion (repeatable)")
	fl.StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus metrics to this file")
	return cmd
}

func runBatch(cmd *cobra.Command, g *globalFlags, f *runFlags, path string) error {
	logger := g.logger(cmd.ErrOrStderr())
	bf, unused, err := LoadBatchFile(path, f.envFiles...)
	if err != nil {
		return err
	}
	if len(unused) > 0 {
		logger.Warn("unknown batch file keys", slog.String("file", path), slog.String("keys", strings.Join(unused, ", ")))
	}

	eng, err := g.newEngine(logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	sum := &summary{}
	opts := []multireq.Option{
		multireq.WithTransport(eng),
		multireq.WithLogger(logger),
	}
	if k := firstPositive(f.concurrency, bf.Concurrency); k > 0 {
		opts = append(opts, multireq.WithConcurrency(k))
	}
	if w := firstPositive(f.wait, bf.Wait); w > 0 {
		opts = append(opts, multireq.WithRequestTimeout(time.Duration(w)*time.Second))
	}
	if f.strict {
		opts = append(opts, multireq.WithStrictConcurrencyLimit())
	}
	exec := multireq.NewExecutor(opts...)
	exec.SetCommonRequestOptions(bf.Common)

	record := multireq.NewHandler(func(_ response.Response, r *multireq.Request, _ ...any) { sum.add(r) })
	for _, spec := range bf.Requests {
		r, err := spec.Build(logger)
		if err != nil {
			return err
		}
		r.On(multireq.EventComplete, record)
		exec.AddRequest(r)
	}

	if _, err := exec.Execute(cmd.Context()); err != nil {
		return fmt.Errorf("batch stopped: %w", err)
	}
	if err := sum.write(cmd.OutOrStdout(), exec.LastExecution(), eng.Stats()); err != nil {
		return err
	}

	if f.metricsFile != "" {
		c := metrics.NewCollector(metrics.WithTransport(g.engine, eng), metrics.WithExecutor(exec))
		if err := metrics.WriteFile(f.metricsFile, c); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
