package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of entries to show")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history <user-id>",
	Short: "Show recent location history for a circle member",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		base := baseURL(cfg.HTTPAddr)
		client := &http.Client{Timeout: 5 * time.Second}

		var resp struct {
			UserID    string `json:"user_id"`
			Count     int64  `json:"count"`
			Locations []struct {
				Latitude  float64   `json:"latitude"`
				Longitude float64   `json:"longitude"`
				Accuracy  float64   `json:"accuracy_m"`
				Battery   float64   `json:"battery_pct"`
				At        time.Time `json:"at"`
			} `json:"locations"`
		}
		endpoint := fmt.Sprintf("%s/api/history/%s?limit=%d", base, url.PathEscape(args[0]), historyLimit)
		if err := fetchJSON(client, endpoint, &resp); err != nil {
			return fmt.Errorf("fetch history: %w", err)
		}

		if len(resp.Locations) == 0 {
			fmt.Println("No history recorded.")
			return nil
		}

		fmt.Printf("History for %s (%d total entries, showing %d):\n\n",
			resp.UserID, resp.Count, len(resp.Locations))

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tLATITUDE\tLONGITUDE\tACCURACY\tBATTERY")
		for _, loc := range resp.Locations {
			fmt.Fprintf(w, "%s\t%.6f\t%.6f\t%.0fm\t%.0f%%\n",
				loc.At.Format("2006-01-02 15:04:05"),
				loc.Latitude,
				loc.Longitude,
				loc.Accuracy,
				loc.Battery,
			)
		}
		return w.Flush()
	},
}
