package main

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vjranagit/sampleby/pkg/api"
	"github.com/vjranagit/sampleby/pkg/calendar"
	"github.com/vjranagit/sampleby/pkg/sampler"
)

type explainOptions struct {
	by    string
	from  string
	count int
}

func newExplainCmd() *cobra.Command {
	opts := &explainOptions{}
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Describe the sampler for a granularity and print its boundaries",
		Example: `  sampleby explain --by 1M --from 2024-01-31T00:00:00Z --count 3
  sampleby explain --by 15m --from -1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.by, "by", "", "granularity, e.g. 15m, 1d, 3M")
	cmd.Flags().StringVar(&opts.from, "from", "0", "anchor, as RFC3339 or microseconds since the epoch")
	cmd.Flags().IntVarP(&opts.count, "count", "n", 5, "number of boundaries to print")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}

func runExplain(cmd *cobra.Command, opts *explainOptions) error {
	smp, err := sampler.NewFromString(opts.by)
	if err != nil {
		return err
	}
	from, err := api.ParseTime(opts.from)
	if err != nil {
		return errors.Wrapf(err, "invalid --from %q", opts.from)
	}
	smp.SetStart(from)

	boundaries, err := sampler.Boundaries(smp, from, opts.count)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, smp.String())
	fmt.Fprintf(out, "bucket size: %dus, approx: %dus\n", smp.BucketSize(), smp.ApproxBucketSize())
	for _, b := range boundaries {
		width, err := smp.BucketWidth(b)
		if err != nil {
			fmt.Fprintf(out, "%d\t%s\n", b, calendar.Time(b).Format(time.RFC3339Nano))
			continue
		}
		fmt.Fprintf(out, "%d\t%s\t%dus\n", b, calendar.Time(b).Format(time.RFC3339Nano), width)
	}
	return nil
}
