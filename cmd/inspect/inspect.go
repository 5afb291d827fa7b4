// Package inspect implements the inspect command, which lists the records of
// a WARC archive in a table.
package inspect

import (
	"errors"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/warc"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

const idWidth = 8

// Summary counts records by type.
type Summary struct {
	Records   int
	Responses int
	Revisits  int
	Bytes     int
}

// Command creates the inspect command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <archive.warc.gz>",
		Short: "List the records in a WARC archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := Inspect(afero.NewOsFs(), args[0], cmd.OutOrStdout())
			return err
		},
	}
}

// Inspect renders every record of the archive at path to out.
func Inspect(fs afero.Fs, path string, out io.Writer) (Summary, error) {
	f, err := fs.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	r, err := warc.NewReader(f)
	if err != nil {
		return Summary{}, fmt.Errorf("read archive: %w", err)
	}
	defer r.Close()

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Type", "Target URI", "Date", "Record ID", "Refers To / Digest", "Size"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})

	var sum Summary
	for {
		e, nextErr := r.Next()
		if errors.Is(nextErr, io.EOF) {
			break
		}
		if nextErr != nil {
			return sum, fmt.Errorf("record %d: %w", sum.Records+1, nextErr)
		}

		sum.Records++
		sum.Bytes += len(e.Block)
		switch e.Type() {
		case warc.TypeResponse:
			sum.Responses++
		case warc.TypeRevisit:
			sum.Revisits++
		}

		t.AppendRow(table.Row{
			sum.Records,
			e.Type(),
			e.TargetURI(),
			e.Get(warc.HeaderDate),
			shortID(e.RecordID()),
			reference(e),
			len(e.Block),
		})
	}

	t.AppendFooter(table.Row{
		"", "Total",
		fmt.Sprintf("%d responses, %d revisits", sum.Responses, sum.Revisits),
		"", "", fmt.Sprintf("%d records", sum.Records), sum.Bytes,
	})
	t.Render()
	return sum, nil
}

func reference(e *warc.Entry) string {
	switch e.Type() {
	case warc.TypeRevisit:
		return "-> " + shortID(e.RefersTo())
	case warc.TypeResponse:
		return e.Get(warc.HeaderPayloadDigest)
	default:
		return ""
	}
}

func shortID(id string) string {
	if len(id) > idWidth {
		return id[:idWidth]
	}
	return id
}
