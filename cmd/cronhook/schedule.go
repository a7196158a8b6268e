package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/djlord-it/cronhook/internal/cron"
	"github.com/djlord-it/cronhook/internal/errors"
)

func newCheckScheduleCmd() *cobra.Command {
	var (
		timezone string
		count    int
	)
	cmd := &cobra.Command{
		Use:   "check-schedule <expression>",
		Short: "Validate a cron expression and print its next run times",
		Example: `  cronhook check-schedule "*/15 * * * *"
  cronhook check-schedule "0 30 9 * * 1-5" --tz Europe/Paris -n 3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := nextRuns(args[0], timezone, time.Now(), count)
			if err != nil {
				return withCode(exitRuntimeError, err)
			}
			out := cmd.OutOrStdout()
			for _, t := range runs {
				fmt.Fprintln(out, t.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&timezone, "tz", "UTC", "IANA time zone the expression is evaluated in")
	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of run times to print")
	return cmd
}

// nextRuns returns up to n instants after from at which expression fires.
func nextRuns(expression, timezone string, from time.Time, n int) ([]time.Time, error) {
	if n < 1 {
		return nil, errors.Newf("count must be at least 1, got %d", n)
	}
	sched, err := cron.NewParser().Parse(expression, timezone)
	if err != nil {
		return nil, err
	}

	runs := make([]time.Time, 0, n)
	t := from
	for len(runs) < n {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		runs = append(runs, t)
	}
	return runs, nil
}
