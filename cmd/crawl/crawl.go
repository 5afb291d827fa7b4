// Package crawl implements the crawl command, which fetches seed URLs and the
// pages they link to and archives every response.
package crawl

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonesrussell/north-cloud/warc-archiver/cmd/common"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Command creates the crawl command.
func Command(v *viper.Viper) *cobra.Command {
	var opts Options

	cmd := &cobra.Command{
		Use:   "crawl <seed-url>...",
		Short: "Crawl seed URLs and archive every fetched page",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := common.NewCommandDeps(v)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pipeline, err := common.StartPipeline(deps, nil)
			if err != nil {
				return err
			}

			res, crawlErr := NewCrawler(opts, pipeline.Sink, deps.Logger).Run(ctx, args)
			deps.Logger.Info("Crawl finished",
				logger.Int64("archived", res.Archived),
				logger.Int64("failed", res.Failed),
			)

			closeErr := pipeline.Close(context.WithoutCancel(ctx))
			if crawlErr != nil && ctx.Err() == nil {
				return crawlErr
			}
			return closeErr
		},
	}

	cmd.Flags().IntVar(&opts.MaxDepth, "max-depth", defaultMaxDepth, "maximum link depth to follow (1 fetches only the seeds)")
	cmd.Flags().IntVar(&opts.Parallelism, "parallelism", defaultParallelism, "concurrent requests per domain")
	cmd.Flags().DurationVar(&opts.Delay, "delay", 0, "delay between requests to the same domain")
	cmd.Flags().StringVar(&opts.UserAgent, "user-agent", defaultUserAgent, "User-Agent header")
	cmd.Flags().StringSliceVar(&opts.AllowedDomains, "allowed-domain", nil, "domains to stay within (default: the seed hosts)")
	cmd.Flags().BoolVar(&opts.RespectRobots, "respect-robots", false, "honour robots.txt")

	return cmd
}
