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

// ReplayCommand resumes every pending upload once.
type ReplayCommand struct {
	DatabasePath string
	Verbose      bool
}

func NewReplayCommand() *ReplayCommand {
	return &ReplayCommand{}
}

func (cmd *ReplayCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)

	fs.StringVar(&cmd.DatabasePath, "db", "", "Path to the local state database (default: DATABASE_PATH)")
	fs.BoolVar(&cmd.Verbose, "verbose", false, "Print every pending file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s replay [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Resume uploads interrupted by a crash or a network failure.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	return fs.Parse(args)
}

func (cmd *ReplayCommand) Run() error {
	cfg := config.NewConfig()
	if cmd.DatabasePath != "" {
		cfg.Database.Path = cmd.DatabasePath
	}

	ctx := context.Background()
	return withApp(ctx, cfg, func(app *entrypoint.App) error {
		if cmd.Verbose {
			pending, err := app.Queue.ListPending(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Pending uploads: %d\n", len(pending))
			for i, e := range pending {
				fmt.Printf("%d. %s (attempts: %d) %s\n", i+1, e.Filepath, e.Attempts, e.LastError)
			}
		}

		summary, err := tasks.ReplayUploads(ctx, app.Transfers, app.Progress[entities.SyncTypeUploadReplay])
		if err != nil {
			return err
		}

		fmt.Printf("\n=== Replay Results ===\n")
		fmt.Printf("Completed: %d\n", summary.Completed)
		fmt.Printf("Still pending: %d\n", summary.Failed)
		if summary.Errors != nil {
			fmt.Printf("\nErrors:\n%v\n", summary.Errors)
		}
		return nil
	})
}
