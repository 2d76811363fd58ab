package cmd

import (
	"context"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var encodingsCmd = &cobra.Command{
	Use:   "encodings",
	Short: "Manage reference face descriptors",
}

var encodingsRegenerateCmd = &cobra.Command{
	Use:   "regenerate <class>",
	Short: "Recompute the reference descriptors of a class",
	Long: `Run the detector again over every stored reference photo of a class and
replace the stored descriptors. Photos without a usable face are dropped.
The enrollment policy is applied to the result.

Detector failures abort the run without changing anything.

Examples:
  attendance encodings regenerate Class_5A
  attendance encodings regenerate Class_5A --json`,
	Args: cobra.ExactArgs(1),
	RunE: runEncodingsRegenerate,
}

func init() {
	rootCmd.AddCommand(encodingsCmd)
	encodingsCmd.AddCommand(encodingsRegenerateCmd)

	encodingsRegenerateCmd.Flags().Bool("json", false, "Output as JSON instead of progress bar")
}

func runEncodingsRegenerate(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	svc, closeFn, err := openService(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	var bar *progressbar.ProgressBar
	progress := func(done, total int) {
		if jsonOutput {
			return
		}
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("Detecting faces"),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("photos"),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionFullWidth(),
			)
		}
		bar.Set(done)
	}

	res, err := svc.RegenerateDescriptors(context.Background(), args[0], progress)
	if bar != nil {
		bar.Finish()
		fmt.Println()
	}
	if err != nil {
		return fmt.Errorf("failed to regenerate descriptors: %w", err)
	}
	if jsonOutput {
		return outputJSON(res)
	}

	for _, p := range res.Persons {
		fmt.Printf("%s (%s): %d photos, %d encoded", p.PersonID, p.Name, p.Photos, p.Encoded)
		if len(p.Dropped) > 0 {
			fmt.Printf(", dropped %v", p.Dropped)
		}
		fmt.Println()
	}
	fmt.Printf("\nTotal encodings for %s: %d\n", res.GroupID, res.Encodings)
	return nil
}
