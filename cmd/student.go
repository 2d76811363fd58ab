package cmd

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/attendance/internal/database"
	"github.com/kozaktomas/attendance/internal/service"
)

var studentCmd = &cobra.Command{
	Use:   "student",
	Short: "Manage the students of a class",
}

var studentUpsertCmd = &cobra.Command{
	Use:   "upsert <class>",
	Short: "Add students or rename existing ones",
	Long: `Add students to a class or rename existing ones. Existing students keep
their reference photos.

Examples:
  # Two students from flags
  attendance student upsert Class_5A --student S1=Alice --student S2=Bob

  # From a CSV file with "student_id,name" rows
  attendance student upsert Class_5A --file roster.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runStudentUpsert,
}

var studentDeleteCmd = &cobra.Command{
	Use:   "delete <class> <student-id>",
	Short: "Remove a student and their reference photos",
	Args:  cobra.ExactArgs(2),
	RunE:  runStudentDelete,
}

var studentAddPhotoCmd = &cobra.Command{
	Use:   "add-photo <class> <student-id> <photo>...",
	Short: "Enroll reference photos for a student",
	Long: `Detect the face on each photo and store it as a reference for the student.
Photos without a usable face are reported and skipped. Under the canonical
enrollment policy only the lexicographically first photo is kept.`,
	Args: cobra.MinimumNArgs(3),
	RunE: runStudentAddPhoto,
}

func init() {
	rootCmd.AddCommand(studentCmd)
	studentCmd.AddCommand(studentUpsertCmd, studentDeleteCmd, studentAddPhotoCmd)

	studentUpsertCmd.Flags().StringSlice("student", nil, "Student as ID=Name (repeatable)")
	studentUpsertCmd.Flags().String("file", "", "CSV file with student_id,name rows")
}

// parseStudentArg splits "ID=Name".
func parseStudentArg(s string) (database.PersonInput, error) {
	id, name, ok := strings.Cut(s, "=")
	if !ok {
		return database.PersonInput{}, fmt.Errorf("invalid student %q, expected ID=Name", s)
	}
	return database.PersonInput{PersonID: strings.TrimSpace(id), Name: strings.TrimSpace(name)}, nil
}

// readRosterCSV reads student_id,name rows. A first row of "student_id,name"
// is treated as a header.
func readRosterCSV(path string) ([]database.PersonInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open roster: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read roster: %w", err)
	}

	var rows []database.PersonInput
	for i, rec := range records {
		if i == 0 && len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "student_id") {
			continue
		}
		row := database.PersonInput{}
		if len(rec) > 0 {
			row.PersonID = strings.TrimSpace(rec[0])
		}
		if len(rec) > 1 {
			row.Name = strings.TrimSpace(rec[1])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func runStudentUpsert(cmd *cobra.Command, args []string) error {
	var rows []database.PersonInput
	for _, s := range mustGetStringSlice(cmd, "student") {
		row, err := parseStudentArg(s)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	if path := mustGetString(cmd, "file"); path != "" {
		fileRows, err := readRosterCSV(path)
		if err != nil {
			return err
		}
		rows = append(rows, fileRows...)
	}
	if len(rows) == 0 {
		return errors.New("no students given, use --student or --file")
	}

	svc, closeFn, err := openService(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := svc.UpsertStudents(context.Background(), args[0], rows)
	if err != nil {
		return fmt.Errorf("failed to update students: %w", err)
	}
	for _, w := range res.Warnings {
		fmt.Printf("Warning: row %d (%s): %s\n", w.Index+1, w.Item, w.Message)
	}
	fmt.Printf("Updated %d students in %s\n", res.Updated, args[0])
	return nil
}

func runStudentDelete(cmd *cobra.Command, args []string) error {
	svc, closeFn, err := openService(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := svc.DeletePerson(context.Background(), args[0], args[1]); err != nil {
		return fmt.Errorf("failed to delete student: %w", err)
	}
	fmt.Printf("Deleted student %s from %s\n", args[1], args[0])
	return nil
}

func runStudentAddPhoto(cmd *cobra.Command, args []string) error {
	groupID, personID := args[0], args[1]
	uploads := make([]service.Upload, 0, len(args)-2)
	for _, path := range args[2:] {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		uploads = append(uploads, service.Upload{Filename: filepath.Base(path), Data: data})
	}

	svc, closeFn, err := openService(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := svc.AddPhotos(context.Background(), groupID, personID, uploads)
	if err != nil {
		return fmt.Errorf("failed to add photos: %w", err)
	}
	for _, o := range res.Outcomes {
		switch {
		case o.Error != "":
			fmt.Printf("  %s: skipped (%s)\n", o.Filename, o.Error)
		case o.Retained:
			fmt.Printf("  %s: enrolled as %s\n", o.Filename, o.PhotoID)
		default:
			fmt.Printf("  %s: accepted, not kept as reference\n", o.Filename)
		}
	}
	fmt.Printf("Added %d of %d photos for %s, %d references kept\n",
		res.Added, len(uploads), personID, len(res.Person.PhotoIDs))
	return nil
}
