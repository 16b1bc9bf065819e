// Package cli implements the one-shot maintenance commands of the binary.
// Each command builds the application from the environment, does its work
// in the foreground and exits.
package cli

import (
	"context"
	"fmt"

	"github.com/miroshar-success/book-adapter-epub/internal/config"
	"github.com/miroshar-success/book-adapter-epub/internal/entrypoint"
)

// withApp builds the application with background tasks disabled, runs fn
// and releases everything afterwards.
func withApp(ctx context.Context, cfg *config.Config, fn func(app *entrypoint.App) error) error {
	if err := entrypoint.ConfigureLogging(cfg.Log); err != nil {
		return err
	}
	cfg.Tasks.Enabled = false

	app, err := entrypoint.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	if _, ok := app.Identity.CurrentUserID(); !ok {
		return fmt.Errorf("not signed in: set AUTH_STATIC_USER or AUTH_SESSION_TOKEN")
	}
	return fn(app)
}
