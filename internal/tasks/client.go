package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mikestefanello/backlite"
	log "github.com/sirupsen/logrus"
)

// Matches the durability of the local state database.
const tasksPragmas = "_journal=WAL&_sync=FULL&_timeout=5000&_busy_timeout=5000"

// Client wraps backlite to run uploads, upload replays and library
// reconciliation in the background. Tasks live in their own SQLite file, so
// queued work survives a restart just like the upload queue does.
type Client struct {
	client  *backlite.Client
	db      *sql.DB
	workers int
	started atomic.Bool
}

// TasksDBPath returns the task database path for a state database:
// "data/state.db" becomes "data/state-tasks.db".
func TasksDBPath(mainDBPath string) string {
	ext := filepath.Ext(mainDBPath)
	return strings.TrimSuffix(mainDBPath, ext) + "-tasks" + ext
}

// NewClient opens the task database next to mainDBPath and installs the
// backlite schema.
func NewClient(mainDBPath string, cfg Config) (*Client, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}

	db, err := sql.Open("sqlite3", TasksDBPath(mainDBPath)+"?"+tasksPragmas)
	if err != nil {
		return nil, fmt.Errorf("failed to open tasks database: %w", err)
	}
	// Each worker holds a connection while a task runs.
	db.SetMaxOpenConns(cfg.Workers + 5)
	db.SetMaxIdleConns(cfg.Workers + 2)
	db.SetConnMaxLifetime(time.Hour)

	client, err := backlite.NewClient(backlite.ClientConfig{
		DB:              db,
		NumWorkers:      cfg.Workers,
		ReleaseAfter:    cfg.ReleaseAfter,
		CleanupInterval: cfg.CleanupInterval,
		Logger:          logrusLogger{},
	})
	if err == nil {
		err = client.Install()
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set up task queue: %w", err)
	}

	return &Client{client: client, db: db, workers: cfg.Workers}, nil
}

// Register adds task queues. Must be called before Start.
func (c *Client) Register(queues ...backlite.Queue) {
	for _, q := range queues {
		c.client.Register(q)
	}
}

// Start begins processing tasks. Calls after the first are no-ops.
func (c *Client) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	log.Printf("[TASK] Queue started with %d workers", c.workers)
	c.client.Start(ctx)
}

// Stop waits for running tasks to finish. It reports whether they all did
// before ctx expired.
func (c *Client) Stop(ctx context.Context) bool {
	if !c.started.Load() {
		return true
	}

	log.Println("[TASK] Stopping queue...")
	if !c.client.Stop(ctx) {
		log.Warn("[TASK] Queue stopped with timeout (some tasks may not have completed)")
		return false
	}
	log.Println("[TASK] Queue stopped gracefully")
	return true
}

// Close releases the task database. Call it after Stop.
func (c *Client) Close() error {
	return c.db.Close()
}

// Status returns the status of a task by ID.
func (c *Client) Status(ctx context.Context, taskID string) (backlite.TaskStatus, error) {
	return c.client.Status(ctx, taskID)
}

// Enqueue saves tasks for background processing and returns their ids.
func (c *Client) Enqueue(ctx context.Context, tasks ...backlite.Task) ([]string, error) {
	ids, err := c.client.Add(tasks...).Ctx(ctx).Save()
	if err != nil {
		return nil, fmt.Errorf("enqueue tasks: %w", err)
	}
	return ids, nil
}

// logrusLogger routes backlite's key/value logs to logrus fields.
type logrusLogger struct{}

func (logrusLogger) Info(message string, params ...any) {
	log.WithFields(fields(params)).Info("[TASK] " + message)
}

func (logrusLogger) Error(message string, params ...any) {
	log.WithFields(fields(params)).Error("[TASK] " + message)
}

func fields(params []any) log.Fields {
	f := make(log.Fields, len(params)/2)
	for i := 0; i+1 < len(params); i += 2 {
		f[fmt.Sprint(params[i])] = params[i+1]
	}
	return f
}
