package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/coverbridge/imagezip"
)

func newParseCmd() *cobra.Command {
	var maxMB int

	cmd := &cobra.Command{
		Use:   "parse <archive.zip>",
		Short: "List the images of a ZIP in upload order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			images, err := readImages(args[0], maxMB)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tNAME\tFORMAT\tSIZE\tBYTES")
			for i, img := range images {
				size := "-"
				if img.Width > 0 {
					size = fmt.Sprintf("%dx%d", img.Width, img.Height)
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", i+1, img.Name, img.Format, size, len(img.Data))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d images\n", len(images))
			return nil
		},
	}
	cmd.Flags().IntVar(&maxMB, "max-mb", 200, "Largest archive accepted, in MiB")
	return cmd
}

func readImages(path string, maxMB int) ([]imagezip.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return imagezip.ReadAll(f, imagezip.Config{MaxArchiveBytes: int64(maxMB) << 20})
}
