package cli

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/miroshar-success/book-adapter-epub/internal/config"
	"github.com/miroshar-success/book-adapter-epub/internal/identity"
)

// TokenCommand issues a session token signed with AUTH_JWT_SECRET.
type TokenCommand struct {
	UserID string
	Expiry time.Duration
}

func NewTokenCommand() *TokenCommand {
	return &TokenCommand{}
}

func (cmd *TokenCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)

	fs.StringVar(&cmd.UserID, "user", "", "User ID to issue the token for (required)")
	fs.DurationVar(&cmd.Expiry, "expiry", 0, "Token validity (default: AUTH_TOKEN_EXPIRY)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s token -user <id> [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Issue a session token for POST /api/session or AUTH_SESSION_TOKEN.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if cmd.UserID == "" {
		return fmt.Errorf("-user is required")
	}
	return nil
}

func (cmd *TokenCommand) Run() error {
	cfg := config.NewConfig()
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is not set")
	}

	expiry := cmd.Expiry
	if expiry == 0 {
		expiry = cfg.Auth.TokenExpiry
	}
	if expiry <= 0 {
		expiry = 30 * 24 * time.Hour
	}

	token, err := identity.GenerateToken(cmd.UserID, []byte(cfg.Auth.JWTSecret), expiry, time.Now())
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
