// Package archive implements the archive command, which reads crawled pages
// as newline-delimited JSON and writes them into WARC archives.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonesrussell/north-cloud/warc-archiver/cmd/common"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/logger"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Command creates the archive command.
func Command(v *viper.Viper) *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Archive crawled pages read as newline-delimited JSON",
		Long: `Read one JSON object per line and write each page into the open WARC archive.

Each line has the form:
  {"url": "...", "date": "2024-05-01T12:00:00Z", "body": "<base64>",
   "payload_type": "text/html", "fetch_time_ms": 120}

Lines that cannot be parsed are logged and skipped. On end of input or
SIGINT/SIGTERM the open archive is committed before exiting.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := common.NewCommandDeps(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), deps, afero.NewOsFs(), input, cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "-", "input file, or - for stdin")
	return cmd
}

func run(ctx context.Context, deps common.CommandDeps, fs afero.Fs, input string, stdin io.Reader) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := stdin
	if input != "-" {
		f, err := fs.Open(input)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	pipeline, err := common.StartPipeline(deps, nil)
	if err != nil {
		return err
	}

	res, feedErr := Feed(ctx, r, pipeline.Sink, deps.Logger)
	deps.Logger.Info("Input consumed",
		logger.Int("written", res.Written),
		logger.Int("skipped", res.Skipped),
	)

	// Commit what was accepted even when the input was interrupted.
	closeErr := pipeline.Close(context.WithoutCancel(ctx))

	if feedErr != nil && ctx.Err() == nil {
		return feedErr
	}
	return closeErr
}
