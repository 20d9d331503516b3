package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// jobctl triggers the service's internal maintenance jobs over HTTP. It is
// what cron actually invokes; scheduling policy never lives in the service.

var (
	baseURL string
	token   string
)

func main() {
	root := &cobra.Command{
		Use:   "jobctl",
		Short: "Trigger donation settlement maintenance jobs",
	}

	root.PersistentFlags().StringVar(&baseURL, "base-url", "http://localhost:8080", "service base URL")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("INTERNAL_TOKEN"), "internal API token")

	root.AddCommand(
		jobCommand("weekly-batches", "Group pending donations into weekly batches", "/api/internal/jobs/weekly-batches"),
		jobCommand("collect-batches", "Initiate payment collection for ready batches", "/api/internal/jobs/collect-batches"),
		jobCommand("retry-webhooks", "Re-drive failed webhook events", "/api/internal/jobs/retry-webhooks"),
		jobCommand("reprocess-transactions", "Re-run matching for stuck pending transactions", "/api/internal/jobs/reprocess-transactions"),
		jobCommand("reset-monthly-totals", "Reset stale monthly donation counters", "/api/internal/jobs/reset-monthly-totals"),
		&cobra.Command{
			Use:   "events",
			Short: "List recent webhook events",
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(http.MethodGet, "/api/internal/webhook-events")
			},
		},
		&cobra.Command{
			Use:   "invalidate-mappings",
			Short: "Flush the merchant mapping cache",
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(http.MethodPost, "/api/internal/mappings/invalidate")
			},
		},
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func jobCommand(use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(http.MethodPost, path)
		},
	}
}

func call(method, path string) error {
	req, err := http.NewRequest(method, baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Internal-Token", token)

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	fmt.Println(string(body))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("request failed: %s", resp.Status)
	}
	return nil
}
