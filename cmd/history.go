package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/attendance/internal/database"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse stored attendance sessions",
}

var historyListCmd = &cobra.Command{
	Use:   "list <class>",
	Short: "List the sessions of a class, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <class> <session>",
	Short: "Show one session",
	Long: `Show one stored session. With --csv the stored report is written to
stdout exactly as it is downloaded from the API.`,
	Args: cobra.ExactArgs(2),
	RunE: runHistoryShow,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Attendance reports",
}

var reportClassCmd = &cobra.Command{
	Use:   "class <class>",
	Short: "Per-student attendance over every session of a class",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportClass,
}

var reportTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "Attendance of all classes on one day compared with the day before",
	Args:  cobra.NoArgs,
	RunE:  runReportToday,
}

func init() {
	rootCmd.AddCommand(historyCmd, reportCmd)
	historyCmd.AddCommand(historyListCmd, historyShowCmd)
	reportCmd.AddCommand(reportClassCmd, reportTodayCmd)

	historyShowCmd.Flags().Bool("csv", false, "Print the stored CSV report")
	reportClassCmd.Flags().Bool("json", false, "Output as JSON")
	reportTodayCmd.Flags().String("date", "", "Day as YYYY-MM-DD (default today)")
	reportTodayCmd.Flags().Bool("json", false, "Output as JSON")
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	svc, closeFn, err := openService(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	infos, err := svc.History(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(infos) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tDATE\tTIME")
	fmt.Fprintln(w, "-------\t----\t----")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\n", info.ID, info.Date, info.Time)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d sessions\n", len(infos))
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	svc, closeFn, err := openService(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := context.Background()
	if mustGetBool(cmd, "csv") {
		data, err := svc.SessionReport(ctx, args[0], args[1])
		if err != nil {
			return fmt.Errorf("failed to read session: %w", err)
		}
		_, err = os.Stdout.Write(data)
		return err
	}

	session, err := svc.DecodeSession(ctx, args[0], args[1])
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}
	fmt.Printf("Class: %s\nTaken: %s\n\n", session.GroupName,
		session.TakenAt.Format(database.DateLayout+" "+database.TimeLayout))
	printStatuses(session.Statuses)
	fmt.Printf("\nPresent: %d/%d\n", session.PresentCount, session.TotalCount)
	return nil
}

func runReportClass(cmd *cobra.Command, args []string) error {
	svc, closeFn, err := openService(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	report, err := svc.ClassReport(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to build report: %w", err)
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(report)
	}
	if report.TotalSessions == 0 {
		fmt.Println("No sessions recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STUDENT ID\tNAME\tPRESENT\tABSENT\tATTENDANCE")
	fmt.Fprintln(w, "----------\t----\t-------\t------\t----------")
	for _, s := range report.Students {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.1f%%\n", s.PersonID, s.Name, s.PresentDays, s.AbsentDays, s.Percentage)
	}
	w.Flush()

	fmt.Printf("\nSessions: %d\n", report.TotalSessions)
	return nil
}

func runReportToday(cmd *cobra.Command, args []string) error {
	day, err := mustGetLocalTime(cmd, "date", database.DateLayout)
	if err != nil {
		return err
	}
	if day.IsZero() {
		day = time.Now()
	}

	svc, closeFn, err := openService(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	summary, err := svc.Summary(context.Background(), day)
	if err != nil {
		return fmt.Errorf("failed to build summary: %w", err)
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(summary)
	}

	p := summary.Performance
	fmt.Printf("Date:       %s\n", summary.Date)
	fmt.Printf("Present:    %d/%d (%.1f%%)\n", summary.Present, summary.Total, summary.Percentage)
	fmt.Printf("Previous:   %.1f%% on %s\n", p.PreviousPercentage, previousDay(day))
	fmt.Printf("Trend:      %s (%+.1f)\n", p.Trend, p.Change)
	return nil
}

func previousDay(day time.Time) string {
	return day.AddDate(0, 0, -1).Format(database.DateLayout)
}
