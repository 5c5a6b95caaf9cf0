package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warehouse-sim/warehouse-sim/sim"
	"github.com/warehouse-sim/warehouse-sim/sim/eventlog"
	"github.com/warehouse-sim/warehouse-sim/sim/stream"
	"github.com/warehouse-sim/warehouse-sim/sim/trace"
)

// runOptions carries the run flags. Pointer fields are nil unless the flag
// was given, so scenario values survive.
type runOptions struct {
	scenario  string
	out       string
	headless  bool
	speed     float64
	serveAddr string
	runID     string
	debug     bool
	trace     trace.TraceConfig

	seed  *int64
	until *float64
	tick  *float64
}

var (
	runOpts       runOptions
	runTraceLevel string
	runSeed       int64
	runUntil      float64
	runTick       float64
	statusOut     io.Writer = os.Stderr
)

// runCmd executes a scenario and writes its event stream
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scenario and record its event stream",
	Run: func(cmd *cobra.Command, args []string) {
		o := runOpts
		if cmd.Flags().Changed("seed") {
			o.seed = &runSeed
		}
		if cmd.Flags().Changed("until") {
			o.until = &runUntil
		}
		if cmd.Flags().Changed("tick") {
			o.tick = &runTick
		}
		if !trace.IsValidTraceLevel(runTraceLevel) {
			logrus.Fatalf("Invalid trace level: %s (use none or decisions)", runTraceLevel)
		}
		o.trace.Level = trace.TraceLevel(runTraceLevel)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		startTime := time.Now()
		s, err := simulate(ctx, o)
		if err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		if o.out != "-" {
			s.Metrics().Print(len(s.Dispatcher().Plan()), s.Now())
			if st := s.Trace(); st != nil {
				printTraceSummary(os.Stdout, trace.Summarize(st))
			}
		}
		logrus.Infof("Simulation complete (%s) in %v", s.EndReason(), time.Since(startTime))
	},
}

// simulate loads the scenario, applies flag overrides and runs it to the end.
// The stream is flushed and closed before it returns.
func simulate(ctx context.Context, o runOptions) (*sim.Simulator, error) {
	sc, err := LoadScenario(o.scenario)
	if err != nil {
		return nil, err
	}
	logrus.Infof("Scenario %s", sc.describe())
	if o.seed != nil {
		sc.Seed = *o.seed
	}
	if o.until != nil {
		sc.Until = *o.until
	}

	grid, err := sc.BuildLayout()
	if err != nil {
		return nil, err
	}
	plan, err := sc.BuildPlan(grid)
	if err != nil {
		return nil, err
	}
	cfg, err := sc.BuildConfig()
	if err != nil {
		return nil, err
	}
	if o.tick != nil {
		cfg.Timing.TickSeconds = *o.tick
	}
	cfg.Kernel.RunID = o.runID
	cfg.Kernel.Debug = o.debug
	cfg.Kernel.Trace = o.trace
	if !o.headless {
		cfg.Kernel.RealTimeFactor = o.speed
		cfg.Kernel.RenderHook = statusLine(statusOut, len(plan))
	}

	sink, err := eventlog.OpenSink(o.out)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", o.out, err)
	}
	log := eventlog.NewLog(sink)
	s, err := sim.NewSimulator(grid, plan, cfg, log)
	if err != nil {
		_ = log.Close()
		return nil, err
	}

	if o.serveAddr != "" {
		hub := stream.NewHub(s.Metrics().Registry())
		serveCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		hub.Attach(serveCtx, log)
		go func() {
			if err := hub.ListenAndServe(serveCtx, o.serveAddr); err != nil {
				logrus.Errorf("stream server: %v", err)
			}
		}()
	}

	runErr := s.Run(ctx)
	if !o.headless {
		writeStatus(statusOut, s.Snapshot(), len(plan))
		fmt.Fprintln(statusOut)
	}
	if err := log.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("close %s: %w", o.out, err)
	}
	return s, runErr
}

// statusLine prints a one-line progress report once per virtual second.
func statusLine(w io.Writer, total int) func(sim.Snapshot) {
	next := 0.0
	return func(snap sim.Snapshot) {
		if snap.Time < next {
			return
		}
		next = snap.Time + 1
		writeStatus(w, snap, total)
	}
}

func printTraceSummary(w io.Writer, sum *trace.TraceSummary) {
	fmt.Fprintln(w, "=== Dispatch Trace ===")
	fmt.Fprintf(w, "Assignments          : %d (%d agents)\n", sum.TotalDecisions, sum.UniqueAgents)
	fmt.Fprintf(w, "Mean Distance        : %.2f cells\n", sum.MeanDistance)
	fmt.Fprintf(w, "Regret (mean / max)  : %.2f / %.2f cells\n", sum.MeanRegret, sum.MaxRegret)
	fmt.Fprintf(w, "Releases             : %d", sum.ReleaseCount)
	for _, reason := range []string{trace.ReleaseBlocked, trace.ReleaseNoPath, trace.ReleaseCancelled} {
		if n := sum.ReleasesByReason[reason]; n > 0 {
			fmt.Fprintf(w, "  %s=%d", reason, n)
		}
	}
	fmt.Fprintln(w)
}

func writeStatus(w io.Writer, snap sim.Snapshot, total int) {
	busy := 0
	for _, a := range snap.Agents {
		if a.State != sim.StateIdle {
			busy++
		}
	}
	fmt.Fprintf(w, "\rt=%7.1fs  staged %d/%d  cancelled %d  busy %d/%d ",
		snap.Time, snap.Summary.WorkOrdersStaged, total, snap.Summary.WorkOrdersCancelled, busy, len(snap.Agents))
}

func init() {
	runCmd.Flags().StringVar(&runOpts.scenario, "scenario", "", "Scenario YAML file (default: built-in demo)")
	runCmd.Flags().StringVar(&runOpts.out, "out", "run.jsonl", "Event stream output (.jsonl, .jsonl.zst, .db, or - for stdout)")
	runCmd.Flags().BoolVar(&runOpts.headless, "headless", false, "Run unpaced without progress output")
	runCmd.Flags().Float64Var(&runOpts.speed, "speed", 1, "Virtual seconds per wall second when not headless (0 = unpaced)")
	runCmd.Flags().StringVar(&runOpts.serveAddr, "metrics-addr", "", "Serve /events (websocket) and /metrics on this address")
	runCmd.Flags().StringVar(&runOpts.runID, "run-id", "", "Run id recorded in the stream (default: random uuid)")
	runCmd.Flags().BoolVar(&runOpts.debug, "debug", false, "Abort on invalid assignments instead of logging them")
	runCmd.Flags().StringVar(&runTraceLevel, "trace-level", "none", "Dispatch decision tracing: none or decisions")
	runCmd.Flags().IntVar(&runOpts.trace.CounterfactualK, "counterfactual-k", 0, "Nearest alternative orders kept per traced assignment")
	runCmd.Flags().Int64Var(&runSeed, "seed", 42, "Seed for placement and pick jitter (overrides the scenario)")
	runCmd.Flags().Float64Var(&runUntil, "until", 0, "Virtual-time deadline in seconds, 0 = until the plan drains (overrides the scenario)")
	runCmd.Flags().Float64Var(&runTick, "tick", 0.1, "Tick length in virtual seconds (overrides the scenario)")

	rootCmd.AddCommand(runCmd)
}
