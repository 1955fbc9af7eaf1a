package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/coverbridge/feishu"
	"github.com/hazyhaar/coverbridge/reconcile"
)

func newUploadCmd(opts *options) *cobra.Command {
	var (
		imageField string
		batchSize  int
		maxMB      int
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "upload <archive.zip>",
		Short: "Attach the archive's images to the table records, in order",
		Long: `Attach the images of a ZIP to the table records by position: the first
image (by the first number in its name) goes to the first record, and so on.
A count mismatch is reported and the surplus on either side is skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			images, err := readImages(args[0], maxMB)
			if err != nil {
				return err
			}
			cl, err := opts.client()
			if err != nil {
				return err
			}
			recs, err := cl.ListAllRecords(cmd.Context())
			if err != nil {
				return err
			}
			covers := feishu.ExtractCovers(recs)
			items, mismatch := reconcile.Plan(slog.Default(), images, covers)
			fmt.Fprintf(out, "%d images, %d records, %d to upload\n", len(images), len(covers), len(items))
			if mismatch {
				fmt.Fprintf(out, "warning: counts differ, only the first %d pairs are uploaded\n", len(items))
			}

			if dryRun {
				for i, it := range items {
					fmt.Fprintf(out, "%d\t%s\t→ %s\n", i+1, it.FileName, it.RecordID)
				}
				return nil
			}

			up := reconcile.NewUploader(cl, reconcile.Config{
				ImageField: imageField,
				BatchSize:  batchSize,
				Logger:     slog.Default(),
			})
			var sum reconcile.Summary
			for p := range up.Stream(cmd.Context(), items) {
				sum = p.Cumulative
				fmt.Fprintf(out, "batch %d/%d: %d ok, %d failed (%d/%d)\n",
					p.Batch, p.Batches, p.Summary.Success, p.Summary.Failed, p.Completed, p.Total)
			}
			for _, r := range sum.Results {
				if !r.Success {
					fmt.Fprintf(out, "failed %s: %s\n", r.RecordID, r.Error)
				}
			}
			fmt.Fprintf(out, "done: %d ok, %d failed\n", sum.Success, sum.Failed)
			if sum.Failed > 0 {
				return fmt.Errorf("%d of %d uploads failed", sum.Failed, sum.Total)
			}
			if sum.Total < len(items) {
				return fmt.Errorf("stopped after %d of %d uploads", sum.Total, len(items))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&imageField, "image-field", feishu.DefaultImageField, "Attachment field to write")
	cmd.Flags().IntVar(&batchSize, "batch-size", reconcile.BatchSize, "Images per batch")
	cmd.Flags().IntVar(&maxMB, "max-mb", 200, "Largest archive accepted, in MiB")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the pairing without uploading")
	return cmd
}
