package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/attendance/internal/config"
	"github.com/kozaktomas/attendance/internal/database"
)

// mustFlag reads a flag registered in init(). A lookup error is a
// programming bug, so it panics.
func mustFlag[T any](name string, get func(string) (T, error)) T {
	val, err := get(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

func mustGetBool(cmd *cobra.Command, name string) bool {
	return mustFlag(name, cmd.Flags().GetBool)
}

func mustGetInt(cmd *cobra.Command, name string) int {
	return mustFlag(name, cmd.Flags().GetInt)
}

func mustGetString(cmd *cobra.Command, name string) string {
	return mustFlag(name, cmd.Flags().GetString)
}

func mustGetFloat64(cmd *cobra.Command, name string) float64 {
	return mustFlag(name, cmd.Flags().GetFloat64)
}

func mustGetStringSlice(cmd *cobra.Command, name string) []string {
	return mustFlag(name, cmd.Flags().GetStringSlice)
}

// applyMatchFlags copies --tolerance and --margin into m when they were set
// on the command line.
func applyMatchFlags(cmd *cobra.Command, m *config.MatchConfig) error {
	if cmd.Flags().Changed("tolerance") {
		tolerance := mustGetFloat64(cmd, "tolerance")
		if tolerance <= 0 {
			return fmt.Errorf("--tolerance must be positive, got %v", tolerance)
		}
		m.Tolerance = tolerance
	}
	if cmd.Flags().Changed("margin") {
		margin := mustGetFloat64(cmd, "margin")
		if margin < 0 {
			return fmt.Errorf("--margin must not be negative, got %v", margin)
		}
		m.Margin = margin
	}
	return nil
}

// mustGetLocalTime parses a flag in local time using layout. The zero time
// is returned when the flag is empty.
func mustGetLocalTime(cmd *cobra.Command, name, layout string) (time.Time, error) {
	v := mustGetString(cmd, name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(layout, v, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q, want %s: %w", name, v, layout, err)
	}
	return t, nil
}

// sessionTimeLayout is the --at format of attendance mark.
const sessionTimeLayout = database.DateLayout + " " + database.TimeLayout
