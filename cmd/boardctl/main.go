// Command boardctl manages a task board from the terminal, reading and
// writing the same storage the service uses.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"taskboard/board"
	"taskboard/domain"
	"taskboard/storage"
)

func main() {
	if err := newRootCmd(os.Stdout, afero.NewOsFs()).Execute(); err != nil {
		os.Exit(1)
	}
}

type cliOptions struct {
	backend  string
	dir      string
	redisURL string
	boardKey string
	owner    string
	verbose  bool
}

// cli carries what every subcommand needs to reach the board.
type cli struct {
	opts cliOptions
	out  io.Writer
	fs   afero.Fs
}

func newRootCmd(out io.Writer, fs afero.Fs) *cobra.Command {
	c := &cli{out: out, fs: fs}
	root := &cobra.Command{
		Use:          "boardctl",
		Short:        "Manage a kanban task board",
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.SetErr(out)

	flags := root.PersistentFlags()
	flags.StringVar(&c.opts.backend, "backend", envOr("TASKBOARD_STORAGE_BACKEND", "file"), "storage backend (file|redis)")
	flags.StringVar(&c.opts.dir, "dir", envOr("TASKBOARD_STORAGE_DIR", "./data"), "board directory for the file backend")
	flags.StringVar(&c.opts.redisURL, "redis-url", os.Getenv("TASKBOARD_REDIS_URL"), "redis connection string for the redis backend")
	flags.StringVar(&c.opts.boardKey, "board", envOr("TASKBOARD_BOARD_KEY", board.DefaultKey), "board storage key")
	flags.StringVar(&c.opts.owner, "owner", "", "board owner; empty selects the shared board")
	flags.BoolVarP(&c.opts.verbose, "verbose", "v", false, "log storage diagnostics")

	root.AddCommand(
		c.createCmd(),
		c.editCmd(),
		c.moveCmd(),
		c.listCmd(),
		c.countsCmd(),
		c.boardCmd(),
	)
	return root
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// open loads the selected board. The returned func releases backend
// resources.
func (c *cli) open(ctx context.Context) (*board.Store, func(), error) {
	logger := log.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(log.WarnLevel)
	if c.opts.verbose {
		logger.SetLevel(log.DebugLevel)
	}

	var kv storage.KV
	closeFn := func() {}
	switch c.opts.backend {
	case "file":
		if err := c.fs.MkdirAll(c.opts.dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create %s: %w", c.opts.dir, err)
		}
		kv = storage.NewFile(c.fs, c.opts.dir)
	case "redis":
		if c.opts.redisURL == "" {
			return nil, nil, fmt.Errorf("--redis-url is required for the redis backend")
		}
		rc := redis.NewClient(storage.ParseRedisOptions(c.opts.redisURL))
		kv = storage.NewRedis(rc)
		closeFn = func() { _ = rc.Close() }
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", c.opts.backend)
	}

	registry := board.NewRegistry(kv, c.opts.boardKey, logger)
	session, err := registry.Session(ctx, c.opts.owner)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return session.Store, closeFn, nil
}

func (c *cli) createCmd() *cobra.Command {
	var description, priority string
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Add a task to the todo column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, done, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			task, err := store.Create(cmd.Context(), args[0], description, priority)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "created %d %s\n", task.ID, task.Title)
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "task description")
	cmd.Flags().StringVarP(&priority, "priority", "p", string(domain.PriorityMedium), "priority (low|medium|high)")
	return cmd
}

func (c *cli) editCmd() *cobra.Command {
	var title, description string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a task's title or description",
		Long: `Change a task's title or description.

Fields whose flag is not given keep their current value.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			store, done, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			current, ok := store.Get(id)
			if !ok {
				return fmt.Errorf("task %d: %w", id, board.ErrTaskNotFound)
			}
			if !cmd.Flags().Changed("title") {
				title = current.Title
			}
			if !cmd.Flags().Changed("description") {
				description = current.Description
			}
			task, err := store.Edit(cmd.Context(), id, title, description)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "updated %d %s\n", task.ID, task.Title)
			return nil
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "new title")
	cmd.Flags().StringVarP(&description, "description", "d", "", "new description")
	return cmd
}

func (c *cli) moveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <id> <status>",
		Short: "Move a task to todo, inprogress or done",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			status, ok := domain.ParseStatus(args[1])
			if !ok {
				return fmt.Errorf("%q: %w", args[1], board.ErrInvalidStatus)
			}
			store, done, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			task, err := store.Move(cmd.Context(), id, status)
			if err != nil {
				return fmt.Errorf("task %d: %w", id, err)
			}
			fmt.Fprintf(c.out, "moved %d to %s\n", task.ID, task.Status)
			return nil
		},
	}
}

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [status]",
		Short: "List tasks, optionally of one column",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, done, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			statuses := domain.Statuses()
			if len(args) == 1 {
				status, ok := domain.ParseStatus(args[0])
				if !ok {
					return fmt.Errorf("%q: %w", args[0], board.ErrInvalidStatus)
				}
				statuses = []domain.Status{status}
			}
			for _, st := range statuses {
				for _, t := range store.ListByStatus(st) {
					fmt.Fprintln(c.out, formatLine(t))
				}
			}
			return nil
		},
	}
}

func (c *cli) countsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "counts",
		Short: "Show the number of tasks per column",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, done, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			counts := store.CountsByStatus()
			for _, st := range domain.Statuses() {
				fmt.Fprintf(c.out, "%-10s %d\n", st, counts[st])
			}
			fmt.Fprintf(c.out, "%-10s %d\n", "total", store.Len())
			return nil
		},
	}
}

func (c *cli) boardCmd() *cobra.Command {
	var width int
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Render the board as three columns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, done, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			fmt.Fprintln(c.out, renderBoard(store, width))
			return nil
		},
	}
	cmd.Flags().IntVarP(&width, "width", "w", 32, "column width")
	return cmd
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", raw)
	}
	return id, nil
}
