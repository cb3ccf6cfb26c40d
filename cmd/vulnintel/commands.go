package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/lcalzada-xor/vulnintel/internal/adapters/feeds"
	"github.com/lcalzada-xor/vulnintel/internal/app"
	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"github.com/lcalzada-xor/vulnintel/internal/core/services/pipeline"
	"github.com/spf13/cobra"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newIngestCmd(c *cli) *cobra.Command {
	var (
		feedNames  []string
		scoresOnly bool
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch the intel feeds into the entity store",
		Long: "Runs the KEV, NVD, AbuseIPDB and EPSS feeds in that order. NVD syncs " +
			"incrementally from the last successful run; EPSS scores are fetched only " +
			"for vulnerabilities still missing one.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, application *app.Application) error {
				if scoresOnly {
					res, err := application.Ingest.SyncScores(ctx)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), res)
				}

				summary, err := application.Ingest.Run(ctx, feedNames...)
				if perr := printJSON(cmd.OutOrStdout(), summary); perr != nil {
					return perr
				}
				return err
			})
		},
	}

	cmd.Flags().StringSliceVarP(&feedNames, "feed", "f", nil, "Feeds to run (kev, nvd, abuseipdb, epss); default all")
	cmd.Flags().BoolVar(&scoresOnly, "scores-only", false, "Only fill missing EPSS scores")
	return cmd
}

func newSeedCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "seed FILE...",
		Short: "Load offline seed files into the entity store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, application *app.Application) error {
				res, err := feeds.NewSeedLoader(application.Store).LoadFromMultipleFiles(ctx, args)
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}

func newAssessCmd(c *cli) *cobra.Command {
	var (
		cveID       string
		force       bool
		minSeverity float64
		limit       int
		parallelism int
	)

	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Run the assessment workflow over critical exploited findings",
		Long: "Selects known-exploited vulnerabilities at or above the severity threshold, " +
			"ordered by exploitation probability, and assesses each one. Completed " +
			"findings are skipped and interrupted ones resumed unless --force is set.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, application *app.Application) error {
				if cveID != "" {
					out, err := application.AssessOne(ctx, cveID, force)
					printOutcomes(cmd.OutOrStdout(), []pipeline.Outcome{out})
					return err
				}

				opts := application.PipelineOptions()
				opts.Force = force
				flags := cmd.Flags()
				if flags.Changed("min-severity") {
					opts.MinSeverity = minSeverity
				}
				if flags.Changed("limit") {
					opts.Limit = limit
				}
				if flags.Changed("parallelism") {
					opts.Parallelism = parallelism
				}

				outcomes, err := application.Assess(ctx, opts)
				printOutcomes(cmd.OutOrStdout(), outcomes)
				return err
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cveID, "cve", "", "Assess a single vulnerability")
	flags.BoolVar(&force, "force", false, "Reassess findings that already completed")
	flags.Float64Var(&minSeverity, "min-severity", pipeline.DefaultMinSeverity, "Minimum CVSS base score")
	flags.IntVar(&limit, "limit", pipeline.DefaultLimit, "Maximum findings per run")
	flags.IntVar(&parallelism, "parallelism", pipeline.DefaultParallelism, "Findings assessed concurrently")
	return cmd
}

func printOutcomes(w io.Writer, outcomes []pipeline.Outcome) {
	if len(outcomes) == 0 {
		fmt.Fprintln(w, "no findings assessed")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CVE\tSTATUS\tADJUSTED\tREFLEXION\tERRORS\tREPORTED")
	for _, o := range outcomes {
		score := "n/a"
		if o.AdjustedScore != nil {
			score = fmt.Sprintf("%.4f", *o.AdjustedScore)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%t\n", o.CVEID, o.Status, score, o.ReflexionCount, len(o.Errors), o.Reported)
	}
	_ = tw.Flush()
}

func newResumeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "resume CVE",
		Short: "Continue an interrupted assessment from its last checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !domain.IsValidCVE(args[0]) {
				return fmt.Errorf("invalid CVE id %q", args[0])
			}
			return c.withApp(cmd, func(ctx context.Context, application *app.Application) error {
				state, err := application.Resume(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), state)
			})
		},
	}
}

func newCoverageCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "coverage",
		Short: "Show EPSS coverage and feed sync status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, application *app.Application) error {
				stats, err := application.Store.CoverageStats(ctx)
				if err != nil {
					return err
				}
				statuses, err := application.Store.GetSyncStatuses(ctx)
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "vulnerabilities: %d  with score: %d  without score: %d  coverage: %.1f%%\n\n",
					stats.TotalVulnerabilities, stats.WithScore, stats.WithoutScore, stats.Ratio()*100)

				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "FEED\tLAST SYNC\tRECORDS\tERROR")
				for _, s := range statuses {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.Feed, s.LastSyncTime.UTC().Format("2006-01-02 15:04:05"), s.RecordCount, s.ErrorMessage)
				}
				return tw.Flush()
			})
		},
	}
}

func newServeCmd(c *cli) *cobra.Command {
	var (
		addr    string
		token   string
		origins []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the operator API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if flags.Changed("addr") {
				c.cfg.Server.Addr = addr
			}
			if flags.Changed("api-token") {
				c.cfg.Server.APIToken = token
			}
			if flags.Changed("allowed-origins") {
				c.cfg.Server.AllowedOrigins = origins
			}
			return c.withApp(cmd, func(ctx context.Context, application *app.Application) error {
				return application.Serve(ctx)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", ":8080", "HTTP server address")
	flags.StringVar(&token, "api-token", "", "Bearer token required to start assessments")
	flags.StringSliceVar(&origins, "allowed-origins", nil, "WebSocket origins to accept (* for any)")
	return cmd
}
