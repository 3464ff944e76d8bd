package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/ripple/internal/config"
	"github.com/hyperengineering/ripple/internal/queue"
	"github.com/hyperengineering/ripple/internal/registry"
	"github.com/hyperengineering/ripple/internal/store"
	"github.com/hyperengineering/ripple/internal/types"
)

var (
	queueDBOverride string
	queueJSONOutput bool
	drainQueueName  string
	drainLimit      int
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the SQLite indexing queue",
	Long:  "List and drain logical queues in the SQLite queue database without running the server.",
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pending items per logical queue",
	Args:  cobra.NoArgs,
	RunE:  runQueueStats,
}

var queueDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Remove and print pending items, oldest first",
	Args:  cobra.NoArgs,
	RunE:  runQueueDrain,
}

func init() {
	queueCmd.PersistentFlags().StringVar(&queueDBOverride, "db", "",
		"Queue database path (overrides config and RIPPLE_SQLITE_PATH)")
	queueCmd.PersistentFlags().BoolVar(&queueJSONOutput, "json", false,
		"Output in JSON format")

	queueDrainCmd.Flags().StringVar(&drainQueueName, "queue", "",
		"Logical queue name (default: queue.name from config, else the one serve derives from the registry)")
	queueDrainCmd.Flags().IntVar(&drainLimit, "limit", 100, "Maximum number of items to drain")

	queueCmd.AddCommand(queueStatsCmd)
	queueCmd.AddCommand(queueDrainCmd)
}

// openSQLiteQueue opens the queue database from --db or the sqlite config section.
func openSQLiteQueue(name string) (*store.SQLiteQueue, error) {
	path := queueDBOverride
	if path == "" {
		sqliteCfg, err := config.LoadSQLiteConfig()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		path = sqliteCfg.Path
	}
	return store.NewSQLiteQueue(path, queue.Options{Name: name})
}

// drainTarget picks the logical queue for drain: --queue, else the name
// serve would use for the configured registry.
func drainTarget() (string, error) {
	if drainQueueName != "" {
		return drainQueueName, nil
	}
	cfg, err := config.LoadUnvalidated()
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	if cfg.Queue.Name != "" {
		return cfg.Queue.Name, nil
	}
	reg, err := registry.LoadFile(cfg.Registry.Path)
	if err != nil {
		return "", fmt.Errorf("derive queue name (pass --queue to skip): %w", err)
	}
	return queueName(cfg.Queue, reg), nil
}

func runQueueStats(cmd *cobra.Command, args []string) error {
	q, err := openSQLiteQueue("")
	if err != nil {
		return err
	}
	defer q.Close()

	queues, err := q.Queues(context.Background())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if queueJSONOutput {
		return printJSON(out, queues)
	}

	if len(queues) == 0 {
		fmt.Fprintln(out, "No pending items.")
		return nil
	}

	names := make([]string, 0, len(queues))
	for name := range queues {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := newTabWriter(out)
	fmt.Fprintln(tw, "QUEUE\tPENDING")
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%d\n", name, queues[name])
	}
	return tw.Flush()
}

func runQueueDrain(cmd *cobra.Command, args []string) error {
	if drainLimit < 1 {
		return fmt.Errorf("--limit must be positive, got %d", drainLimit)
	}

	name, err := drainTarget()
	if err != nil {
		return err
	}

	q, err := openSQLiteQueue(name)
	if err != nil {
		return err
	}
	defer q.Close()

	items, err := q.Drain(context.Background(), drainLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if queueJSONOutput {
		if items == nil {
			items = []types.QueueItem{}
		}
		return printJSON(out, items)
	}

	if len(items) == 0 {
		fmt.Fprintf(out, "Queue %q is empty.\n", name)
		return nil
	}

	tw := newTabWriter(out)
	fmt.Fprintln(tw, "ROOT\tOPERATION\tENQUEUED")
	for _, item := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", item.Root, item.Operation, item.EnqueuedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
