package cli

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/miroshar-success/book-adapter-epub/internal/config"
	"github.com/miroshar-success/book-adapter-epub/internal/entities"
	"github.com/miroshar-success/book-adapter-epub/internal/entrypoint"
	"github.com/miroshar-success/book-adapter-epub/internal/tasks"
)

// ReconcileCommand compares local state with the library directory.
type ReconcileCommand struct {
	DatabasePath string
	OrphansOnly  bool
}

func NewReconcileCommand() *ReconcileCommand {
	return &ReconcileCommand{}
}

func (cmd *ReconcileCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)

	fs.StringVar(&cmd.DatabasePath, "db", "", "Path to the local state database (default: DATABASE_PATH)")
	fs.BoolVar(&cmd.OrphansOnly, "orphans", false, "Only remove records that no longer describe anything")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s reconcile [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Repair local file state against the library directory.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s reconcile\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s reconcile -orphans\n", os.Args[0])
	}

	return fs.Parse(args)
}

func (cmd *ReconcileCommand) Run() error {
	cfg := config.NewConfig()
	if cmd.DatabasePath != "" {
		cfg.Database.Path = cmd.DatabasePath
	}

	ctx := context.Background()
	return withApp(ctx, cfg, func(app *entrypoint.App) error {
		if cmd.OrphansOnly {
			removed, err := app.Reconciler.CollectOrphans(ctx)
			if err != nil {
				return err
			}
			printList("Collected", removed)
			return nil
		}

		report, err := tasks.ReconcileLibrary(ctx, app.Reconciler, app.Progress[entities.SyncTypeLibraryReconcile])
		if err != nil {
			return err
		}

		fmt.Printf("=== Reconcile Results ===\n")
		printList("Cleared", report.Cleared)
		printList("Discovered", report.Discovered)
		printList("Collected", report.Collected)
		if len(report.Failures) > 0 {
			fmt.Printf("\n⚠️  %d files could not be reconciled:\n", len(report.Failures))
			for _, f := range report.Failures {
				fmt.Printf("  %s: %v\n", f.Filepath, f.Err)
			}
		}
		return nil
	})
}

func printList(title string, items []string) {
	fmt.Printf("%s: %d\n", title, len(items))
	for _, item := range items {
		fmt.Printf("  %s\n", item)
	}
}
