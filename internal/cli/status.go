package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/miroshar-success/book-adapter-epub/internal/config"
	"github.com/miroshar-success/book-adapter-epub/internal/entities"
	"github.com/miroshar-success/book-adapter-epub/internal/entrypoint"
)

// StatusCommand prints tracked files, pending uploads and the last sync runs.
type StatusCommand struct {
	DatabasePath string
	ShowFiles    bool
}

func NewStatusCommand() *StatusCommand {
	return &StatusCommand{}
}

func (cmd *StatusCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)

	fs.StringVar(&cmd.DatabasePath, "db", "", "Path to the local state database (default: DATABASE_PATH)")
	fs.BoolVar(&cmd.ShowFiles, "files", false, "List every tracked file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s status [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Show local file state and sync progress.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	return fs.Parse(args)
}

func (cmd *StatusCommand) Run() error {
	cfg := config.NewConfig()
	if cmd.DatabasePath != "" {
		cfg.Database.Path = cmd.DatabasePath
	}

	ctx := context.Background()
	return withApp(ctx, cfg, func(app *entrypoint.App) error {
		files, err := app.Files.ListAll(ctx)
		if err != nil {
			return err
		}
		pending, err := app.Queue.Count(ctx)
		if err != nil {
			return err
		}

		var downloaded, uploaded int
		for _, f := range files {
			if f.IsDownloaded {
				downloaded++
			}
			if f.IsFileUploaded {
				uploaded++
			}
		}

		fmt.Printf("Tracked files:   %d\n", len(files))
		fmt.Printf("Downloaded:      %d\n", downloaded)
		fmt.Printf("Uploaded:        %d\n", uploaded)
		fmt.Printf("Pending uploads: %d\n", pending)

		if cmd.ShowFiles {
			fmt.Printf("\n")
			for _, f := range files {
				fmt.Printf("  %s  %s  downloaded=%t uploaded=%t\n", f.ContentHash, f.Filepath, f.IsDownloaded, f.IsFileUploaded)
			}
		}

		fmt.Printf("\nLast runs:\n")
		for _, syncType := range []entities.SyncType{
			entities.SyncTypeUploadReplay,
			entities.SyncTypeLibraryReconcile,
			entities.SyncTypeDeletionReconcile,
		} {
			repo, ok := app.Progress[syncType]
			if !ok {
				continue
			}
			p, err := repo.GetSyncProgress(ctx)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				fmt.Printf("  %-20s never\n", syncType)
				continue
			}
			if err != nil {
				return err
			}
			fmt.Printf("  %-20s %s (%d/%d, %d failed) at %s\n",
				syncType, p.Status, p.Processed, p.TotalItems, p.Failed, p.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	})
}
