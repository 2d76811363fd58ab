package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/attendance/internal/database"
	"github.com/kozaktomas/attendance/internal/service"
)

var attendanceCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Take attendance",
}

var attendanceTakeCmd = &cobra.Command{
	Use:   "take <class> <group-photo>",
	Short: "Recognize students on a group photo",
	Long: `Detect every face on a group photo, match it against the reference
descriptors of the class and print who is present.

Examples:
  # Preview only
  attendance attendance take Class_5A photo.jpg

  # Store the result as an attendance session
  attendance attendance take Class_5A photo.jpg --save`,
	Args: cobra.ExactArgs(2),
	RunE: runAttendanceTake,
}

var attendanceMarkCmd = &cobra.Command{
	Use:   "mark <class>",
	Short: "Store a session from a list of present students",
	Long: `Store an attendance session without a photo. Every enrolled student not
listed with --present is recorded as absent.`,
	Args: cobra.ExactArgs(1),
	RunE: runAttendanceMark,
}

func init() {
	rootCmd.AddCommand(attendanceCmd)
	attendanceCmd.AddCommand(attendanceTakeCmd, attendanceMarkCmd)

	attendanceTakeCmd.Flags().Bool("save", false, "Store the result as a session")
	attendanceTakeCmd.Flags().Bool("json", false, "Output as JSON")
	attendanceTakeCmd.Flags().Float64("tolerance", 0, "Override MATCH_TOLERANCE for this run")
	attendanceTakeCmd.Flags().Float64("margin", 0, "Override MATCH_MARGIN for this run")
	attendanceMarkCmd.Flags().StringSlice("present", nil, "IDs of present students (repeatable)")
	attendanceMarkCmd.Flags().String("at", "", "Session time as YYYY-MM-DD HH:MM:SS (default now)")
}

func runAttendanceTake(cmd *cobra.Command, args []string) error {
	groupID, path := args[0], args[1]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	photo := service.Upload{Filename: filepath.Base(path), Data: data}

	if err := applyMatchFlags(cmd, &cfg.Match); err != nil {
		return err
	}

	svc, closeFn, err := openService(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := context.Background()
	var rec *service.Recognition
	var saved *service.SavedSession
	if mustGetBool(cmd, "save") {
		rec, saved, err = svc.RecognizeAndSave(ctx, groupID, photo)
	} else {
		rec, err = svc.Recognize(ctx, groupID, photo)
	}
	if err != nil {
		return fmt.Errorf("recognition failed: %w", err)
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(struct {
			Recognition *service.Recognition  `json:"recognition"`
			Session     *service.SavedSession `json:"session,omitempty"`
		}{rec, saved})
	}

	fmt.Printf("Class: %s, %d faces (%d recognized, %d unknown)\n\n",
		rec.GroupName, len(rec.Faces), rec.Recognized, rec.Unknown)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FACE\tNAME\tDISTANCE\tCONFIDENCE")
	fmt.Fprintln(w, "----\t----\t--------\t----------")
	for _, f := range rec.Faces {
		dist := "-"
		if f.Distance != nil {
			dist = fmt.Sprintf("%.3f", *f.Distance)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%.1f%%\n", f.Index, f.Name, dist, f.Confidence)
	}
	w.Flush()

	fmt.Println()
	printStatuses(rec.Statuses)
	fmt.Printf("\nPresent: %d/%d\n", rec.PresentCount, rec.TotalCount)
	if saved != nil {
		fmt.Printf("Saved session %s\n", saved.Info.ID)
	}
	return nil
}

func runAttendanceMark(cmd *cobra.Command, args []string) error {
	takenAt, err := mustGetLocalTime(cmd, "at", sessionTimeLayout)
	if err != nil {
		return err
	}

	var reported []database.AttendanceStatus
	for _, id := range mustGetStringSlice(cmd, "present") {
		reported = append(reported, database.AttendanceStatus{PersonID: id, Status: database.StatusPresent})
	}

	svc, closeFn, err := openService(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	saved, err := svc.SaveSession(context.Background(), args[0], reported, takenAt)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	printStatuses(saved.Statuses)
	fmt.Printf("\nSaved session %s (%d/%d present)\n", saved.Info.ID, saved.PresentCount, saved.TotalCount)
	return nil
}

func printStatuses(statuses []database.AttendanceStatus) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STUDENT ID\tNAME\tSTATUS")
	fmt.Fprintln(w, "----------\t----\t------")
	for _, s := range statuses {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.PersonID, s.Name, s.Status)
	}
	w.Flush()
}
