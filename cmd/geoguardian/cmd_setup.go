package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/config"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("GeoGuardian Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		// 1. User identity
		cfg.UserID = prompt(scanner, "Your user ID", cfg.UserID)

		// 2. Data directory
		cfg.DataDir = prompt(scanner, "Data directory", cfg.DataDir)

		// 3. Log level
		cfg.LogLevel = prompt(scanner, "Log level (debug/info/warn/error)", cfg.LogLevel)

		// 4. HTTP listen address
		cfg.HTTPAddr = prompt(scanner, "HTTP listen address", cfg.HTTPAddr)

		// 5. Connectivity probe URL
		cfg.Probe.URL = prompt(scanner, "Connectivity probe URL", cfg.Probe.URL)

		// 6. Probe interval
		intervalStr := prompt(scanner, "Probe interval", cfg.Probe.Interval.String())
		if d, err := time.ParseDuration(intervalStr); err == nil {
			cfg.Probe.Interval = d
		}

		// 7. Realtime API key (optional)
		cfg.Realtime.APIKey = prompt(scanner, "Realtime API key (optional)", cfg.Realtime.APIKey)

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
