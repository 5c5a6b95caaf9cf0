package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warehouse-sim/warehouse-sim/sim/eventlog"
)

var convertStrict bool

var convertCmd = &cobra.Command{
	Use:   "convert IN OUT",
	Short: "Convert an event stream between encodings",
	Long:  "Convert a recorded event stream between plain JSONL (.jsonl), zstd-compressed JSONL (.jsonl.zst) and SQLite (.db). The encoding is chosen by file extension; OUT may be - for stdout.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		n, err := convertStream(args[0], args[1], convertStrict)
		if err != nil {
			logrus.Fatalf("Conversion failed: %v", err)
		}
		logrus.Infof("Converted %d records from %s to %s", n, args[0], args[1])
	},
}

// convertStream copies every readable record of in to out and returns the count.
func convertStream(in, out string, strict bool) (int, error) {
	if filepath.Clean(in) == filepath.Clean(out) {
		return 0, fmt.Errorf("input and output are the same file")
	}
	var v *eventlog.Validator
	if strict {
		var err error
		if v, err = eventlog.NewValidator(); err != nil {
			return 0, err
		}
	}
	recs, err := eventlog.OpenFile(in, v)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, fmt.Errorf("%s: %w: no records", in, eventlog.ErrMalformedEvent)
	}
	sink, err := eventlog.OpenSink(out)
	if err != nil {
		return 0, err
	}
	if err := sink.Write(recs); err != nil {
		_ = sink.Close()
		return 0, err
	}
	return len(recs), sink.Close()
}

func init() {
	convertCmd.Flags().BoolVar(&convertStrict, "strict", false, "Drop records that violate the event schema")
	rootCmd.AddCommand(convertCmd)
}
