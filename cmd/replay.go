package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warehouse-sim/warehouse-sim/sim/eventlog"
	"github.com/warehouse-sim/warehouse-sim/sim/replay"
	"github.com/warehouse-sim/warehouse-sim/sim/stream"
)

var (
	replayStrict    bool
	replaySpeed     float64
	replayHeadless  bool
	replayServe     string
	replayInterval  time.Duration
	replayFromStdin bool
)

// replayCmd plays a recorded stream back without running the kernel
var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Play back a recorded event stream",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		r, err := loadReplay(args[0], replayStrict)
		if err != nil {
			logrus.Fatalf("Cannot replay %s: %v", args[0], err)
		}
		if err := r.SetSpeed(replaySpeed); err != nil {
			logrus.Fatalf("%v (choose from %v)", err, replay.Speeds)
		}

		if replayHeadless {
			r.RunToEnd()
			printReplaySummary(os.Stdout, r)
			return
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		commands := make(chan replay.Command, 16)
		var hub *stream.Hub
		if replayServe != "" {
			hub = stream.NewHub(nil)
			go forward(ctx, hub.Commands(), commands)
			go func() {
				if err := hub.ListenAndServe(ctx, replayServe); err != nil {
					logrus.Errorf("stream server: %v", err)
				}
			}()
		}
		if replayFromStdin {
			go readCommands(ctx, os.Stdin, commands)
		}

		pub := &publisher{hub: hub}
		err = r.Drive(ctx, commands, replayInterval, func(r *replay.Replay) {
			pub.frame(r)
			fmt.Fprintf(os.Stderr, "\rt=%7.1fs  %5.2fx  %d/%d records ", r.Clock(), r.Speed(), r.Consumed(), r.Len())
		})
		fmt.Fprintln(os.Stderr)
		if err != nil && ctx.Err() == nil {
			logrus.Fatalf("Replay failed: %v", err)
		}
		printReplaySummary(os.Stdout, r)
	},
}

// loadReplay reads a stream; strict mode drops records that violate the
// event schema.
func loadReplay(path string, strict bool) (*replay.Replay, error) {
	var v *eventlog.Validator
	if strict {
		var err error
		if v, err = eventlog.NewValidator(); err != nil {
			return nil, err
		}
	}
	return replay.Load(path, v)
}

// publisher pushes the records consumed since the last frame to viewers. A
// backward seek restarts the stream from SIMULATION_START.
type publisher struct {
	hub  *stream.Hub
	sent int
}

func (p *publisher) frame(r *replay.Replay) {
	if p.hub == nil {
		return
	}
	n := r.Consumed()
	if n < p.sent {
		p.sent = 0
	}
	p.hub.Publish(r.Records()[p.sent:n])
	p.sent = n
}

func forward(ctx context.Context, in <-chan replay.Command, out chan<- replay.Command) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-in:
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}
}

// parseCommandLine maps one line of terminal input to a playback command:
// "p" toggles pause, "+"/"-" change speed, "speed X", "seek T", "q" quits.
func parseCommandLine(line string) (replay.Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return replay.Command{}, fmt.Errorf("empty command")
	}
	arg := func() (float64, error) {
		if len(fields) != 2 {
			return 0, fmt.Errorf("%s needs one numeric argument", fields[0])
		}
		return strconv.ParseFloat(fields[1], 64)
	}
	switch strings.ToLower(fields[0]) {
	case "p", "pause":
		return replay.Command{Kind: replay.CmdTogglePause}, nil
	case "+", "faster":
		return replay.Command{Kind: replay.CmdSpeedUp}, nil
	case "-", "slower":
		return replay.Command{Kind: replay.CmdSlowDown}, nil
	case "q", "quit", "exit":
		return replay.Command{Kind: replay.CmdQuit}, nil
	case "speed":
		v, err := arg()
		return replay.Command{Kind: replay.CmdSetSpeed, Value: v}, err
	case "seek":
		v, err := arg()
		return replay.Command{Kind: replay.CmdSeek, Value: v}, err
	}
	return replay.Command{}, fmt.Errorf("unknown command %q", fields[0])
}

func readCommands(ctx context.Context, in io.Reader, out chan<- replay.Command) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		c, err := parseCommandLine(sc.Text())
		if err != nil {
			logrus.Warn(err)
			continue
		}
		select {
		case out <- c:
		case <-ctx.Done():
			return
		}
	}
}

func printReplaySummary(w io.Writer, r *replay.Replay) {
	st := r.State()
	fmt.Fprintln(w, "=== Replay Summary ===")
	if st.Config != nil {
		fmt.Fprintf(w, "Run                  : %s (seed %d)\n", st.Config.RunID, st.Config.Seed)
	}
	fmt.Fprintf(w, "Virtual Time         : %.1f s\n", r.Clock())
	status := "incomplete"
	if st.Ended {
		status = st.EndReason
	}
	fmt.Fprintf(w, "End                  : %s\n", status)
	fmt.Fprintf(w, "Work Orders Completed: %d / %d\n", st.Completed, len(st.WorkOrders))
	units := 0
	for _, m := range st.Staging {
		for _, q := range m {
			units += q
		}
	}
	fmt.Fprintf(w, "Units Staged         : %d\n", units)
	for _, id := range st.AgentIDs() {
		a := st.Agents[id]
		fmt.Fprintf(w, "  %-14s %-15s tour %8.1f px, %d picks\n", id, a.Kind, a.TourLength, a.Tasks)
	}
}

func init() {
	replayCmd.Flags().BoolVar(&replayStrict, "strict", false, "Drop records that violate the event schema")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1, "Initial playback speed")
	replayCmd.Flags().BoolVar(&replayHeadless, "headless", false, "Consume the whole stream at once and print the summary")
	replayCmd.Flags().StringVar(&replayServe, "serve", "", "Publish playback to websocket viewers on this address")
	replayCmd.Flags().DurationVar(&replayInterval, "interval", 50*time.Millisecond, "Wall time between frames")
	replayCmd.Flags().BoolVar(&replayFromStdin, "stdin", true, "Read playback commands from standard input")

	rootCmd.AddCommand(replayCmd)
}
