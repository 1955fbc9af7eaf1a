package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/coverbridge/feishu"
	"github.com/hazyhaar/coverbridge/gaoding"
)

func newExportCmd(opts *options) *cobra.Command {
	var output string
	var twoColumns bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the table's cover texts as a Gaoding import archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cl, err := opts.client()
			if err != nil {
				return err
			}
			recs, err := cl.ListAllRecords(cmd.Context())
			if err != nil {
				return err
			}
			rows := gaoding.RowsFromCovers(feishu.ExtractCovers(recs))
			headers := gaoding.CoverHeaders
			if twoColumns {
				headers = gaoding.DefaultHeaders
			}
			data, err := gaoding.BuildExportArchive(rows, headers)
			if err != nil {
				return err
			}
			if output == "" {
				output = gaoding.ExportFileName(time.Now())
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d rows, %d bytes\n", output, len(rows), len(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: dated name in the current directory)")
	cmd.Flags().BoolVar(&twoColumns, "main-only", false, "Only export the main title column")
	return cmd
}
