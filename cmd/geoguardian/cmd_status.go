package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

// fetchJSON GETs url and decodes the body into dst.
func fetchJSON(client *http.Client, url string, dst any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon health, device state, queue, and subscriptions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		base := baseURL(cfg.HTTPAddr)
		client := &http.Client{Timeout: 5 * time.Second}

		var health struct {
			Status  string `json:"status"`
			Healthy bool   `json:"healthy"`
		}
		if err := fetchJSON(client, base+"/health", &health); err != nil {
			return fmt.Errorf("daemon not reachable at %s: %w", base, err)
		}

		var queue struct {
			State struct {
				Connected   bool   `json:"connected"`
				NetworkType string `json:"network_type"`
				AppState    string `json:"app_state"`
				Listening   bool   `json:"listening"`
			} `json:"state"`
			Size       int `json:"size"`
			Operations []struct {
				Kind             string    `json:"kind"`
				Priority         int       `json:"priority"`
				EnqueuedAt       time.Time `json:"enqueued_at"`
				RetriesRemaining int       `json:"retries_remaining"`
			} `json:"operations"`
		}
		if err := fetchJSON(client, base+"/api/queue", &queue); err != nil {
			return fmt.Errorf("fetch queue: %w", err)
		}

		var subs []struct {
			UserID       string    `json:"user_id"`
			CreatedAt    time.Time `json:"created_at"`
			LastUpdateAt time.Time `json:"last_update_at"`
		}
		if err := fetchJSON(client, base+"/api/subscriptions", &subs); err != nil {
			return fmt.Errorf("fetch subscriptions: %w", err)
		}

		network := queue.State.NetworkType
		if network == "" {
			network = "unknown"
		}
		fmt.Printf("Status:        %s\n", health.Status)
		fmt.Printf("Connected:     %v (%s)\n", queue.State.Connected, network)
		fmt.Printf("App state:     %s\n", queue.State.AppState)
		fmt.Printf("Listening:     %v\n", queue.State.Listening)
		fmt.Printf("Queued ops:    %d\n", queue.Size)
		fmt.Printf("Subscriptions: %d\n", len(subs))

		if len(queue.Operations) > 0 {
			fmt.Println()
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tPRIORITY\tRETRIES LEFT\tENQUEUED")
			for _, op := range queue.Operations {
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\n",
					op.Kind,
					op.Priority,
					op.RetriesRemaining,
					op.EnqueuedAt.Format("2006-01-02 15:04:05"),
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}

		if len(subs) > 0 {
			fmt.Println()
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "USER\tSUBSCRIBED\tLAST UPDATE")
			for _, s := range subs {
				last := "never"
				if !s.LastUpdateAt.IsZero() {
					last = s.LastUpdateAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n",
					s.UserID,
					s.CreatedAt.Format("2006-01-02 15:04:05"),
					last,
				)
			}
			return w.Flush()
		}
		return nil
	},
}
