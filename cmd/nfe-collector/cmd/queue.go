package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rezonia/nfe-collector/internal/outbox"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the local delivery queue",
	Long: `Operate directly on the local queue database. Useful when the
daemon is down or when recovering dead-lettered invoices.

Examples:
  nfe-collector queue stats --config cfg.yaml
  nfe-collector queue deadletter
  nfe-collector queue deadletter <id>
  nfe-collector queue requeue <id>`,
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue counts by status",
	RunE:  runQueueStats,
}

var queueDeadLetterCmd = &cobra.Command{
	Use:   "deadletter [id]",
	Short: "List dead-lettered invoices, or show one with its payload",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runQueueDeadLetter,
}

var queueRequeueCmd = &cobra.Command{
	Use:   "requeue <id>",
	Short: "Return a dead-lettered invoice to the queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueRequeue,
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueStatsCmd)
	queueCmd.AddCommand(queueDeadLetterCmd)
	queueCmd.AddCommand(queueRequeueCmd)
}

func openQueue() (*outbox.Queue, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	db, err := outbox.OpenDB(cfg.Queue.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open queue database %s: %w", cfg.Queue.DBPath, err)
	}
	return outbox.NewQueue(db), nil
}

func runQueueStats(cmd *cobra.Command, args []string) error {
	queue, err := openQueue()
	if err != nil {
		return err
	}
	stats, err := queue.Stats(context.Background())
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(stats)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tCOUNT")
	fmt.Fprintf(tw, "pending\t%d\n", stats.Pending)
	fmt.Fprintf(tw, "processing\t%d\n", stats.Processing)
	fmt.Fprintf(tw, "retry\t%d\n", stats.Retry)
	fmt.Fprintf(tw, "sent\t%d\n", stats.Sent)
	fmt.Fprintf(tw, "dead_letter\t%d\n", stats.DeadLetter)
	fmt.Fprintf(tw, "total\t%d\n", stats.Total)
	return tw.Flush()
}

func runQueueDeadLetter(cmd *cobra.Command, args []string) error {
	queue, err := openQueue()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if len(args) == 1 {
		item, err := queue.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if item.Status != outbox.StatusDeadLetter {
			return fmt.Errorf("item %s is not dead-lettered (status: %s)", args[0], item.Status)
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(item)
	}

	items, err := queue.DeadLetters(ctx, 100)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(items)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tACCESS KEY\tATTEMPTS\tLAST ERROR")
	for _, item := range items {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", item.ID, item.AccessKey, item.Attempts, item.LastError)
	}
	return tw.Flush()
}

func runQueueRequeue(cmd *cobra.Command, args []string) error {
	queue, err := openQueue()
	if err != nil {
		return err
	}
	if err := queue.Requeue(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Requeued %s\n", args[0])
	return nil
}
