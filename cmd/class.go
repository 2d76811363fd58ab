package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/attendance/internal/database"
)

var classCmd = &cobra.Command{
	Use:   "class",
	Short: "Manage classes",
}

var classCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an empty class",
	Long: `Create an empty class. The class ID is derived from the name:
diacritics are removed, only letters, digits, spaces, hyphens and underscores
are kept and spaces become underscores ("Třída 5.A" -> "Trida_5A").`,
	Args: cobra.ExactArgs(1),
	RunE: runClassCreate,
}

var classListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all classes",
	Args:  cobra.NoArgs,
	RunE:  runClassList,
}

var classShowCmd = &cobra.Command{
	Use:   "show <class>",
	Short: "Show the roster of a class",
	Args:  cobra.ExactArgs(1),
	RunE:  runClassShow,
}

var classDeleteCmd = &cobra.Command{
	Use:   "delete <class>",
	Short: "Delete a class with its photos and attendance history",
	Args:  cobra.ExactArgs(1),
	RunE:  runClassDelete,
}

func init() {
	rootCmd.AddCommand(classCmd)
	classCmd.AddCommand(classCreateCmd, classListCmd, classShowCmd, classDeleteCmd)

	classListCmd.Flags().Bool("json", false, "Output as JSON")
	classShowCmd.Flags().Bool("json", false, "Output as JSON")
	classDeleteCmd.Flags().Bool("yes", false, "Do not ask for confirmation")
}

func runClassCreate(cmd *cobra.Command, args []string) error {
	svc, closeFn, err := openService(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	g, err := svc.CreateClass(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to create class: %w", err)
	}
	fmt.Printf("Created class %q (ID: %s)\n", g.DisplayName, g.ID)
	return nil
}

func runClassList(cmd *cobra.Command, args []string) error {
	svc, closeFn, err := openService(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	groups, err := svc.ListClasses(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list classes: %w", err)
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(groups)
	}
	if len(groups) == 0 {
		fmt.Println("No classes found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTUDENTS\tCREATED")
	fmt.Fprintln(w, "--\t----\t--------\t-------")
	for _, g := range groups {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", g.ID, g.DisplayName, len(g.Persons), g.CreatedAt.Format(database.DateLayout))
	}
	w.Flush()

	fmt.Printf("\nTotal: %d classes\n", len(groups))
	return nil
}

func runClassShow(cmd *cobra.Command, args []string) error {
	svc, closeFn, err := openService(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	g, err := svc.GetClass(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to load class: %w", err)
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(g)
	}

	fmt.Printf("Class: %s (ID: %s)\n\n", g.DisplayName, g.ID)
	if len(g.Persons) == 0 {
		fmt.Println("No students enrolled.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STUDENT ID\tNAME\tPHOTOS\tREFERENCE")
	fmt.Fprintln(w, "----------\t----\t------\t---------")
	for _, p := range g.Persons {
		ref := "-"
		if len(p.PhotoIDs) > 0 {
			ref = p.PhotoIDs[0]
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", p.PersonID, p.Name, len(p.PhotoIDs), ref)
	}
	w.Flush()
	return nil
}

func runClassDelete(cmd *cobra.Command, args []string) error {
	if !mustGetBool(cmd, "yes") && !confirmAction(fmt.Sprintf("Delete class %s with all photos and history? [y/N]: ", args[0])) {
		fmt.Println("Aborted.")
		return nil
	}

	svc, closeFn, err := openService(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := svc.DeleteClass(context.Background(), args[0]); err != nil {
		return fmt.Errorf("failed to delete class: %w", err)
	}
	fmt.Printf("Deleted class %s\n", args[0])
	return nil
}
