package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rekindle/rekindle/pkg/status"
)

func newStatusCommand() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running instance's status",
		Long: `Query the status endpoint of a running rekindle instance and print
the latest transition outcome.

The exit code mirrors the system state: zero when healthy, non-zero
when the last transition failed.`,
		Example: `  # Query the default address
  rekindle status

  # Query a specific instance, machine-readable
  rekindle status --address host:8484 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printStatus(address)
		},
	}

	cmd.Flags().StringVar(&address, "address", "localhost:8484", "status server address")

	return cmd
}

func printStatus(address string) error {
	report, healthy, err := fetchStatus(address)
	if err != nil {
		return err
	}

	if jsonOutput {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		fmt.Printf("State:      %s\n", report.State)
		fmt.Printf("Components: %s\n", strings.Join(report.Components, ", "))
		if report.FailedComponent != "" {
			fmt.Printf("Failed:     %s\n", report.FailedComponent)
		}
		if report.Error != "" {
			fmt.Printf("Error:      %s\n", report.Error)
		}
		if report.Transition != "" {
			fmt.Printf("Transition: %s\n", report.Transition)
		}
		fmt.Printf("At:         %s\n", report.At.Format(time.RFC3339))
	}

	if !healthy {
		return fmt.Errorf("system is unhealthy")
	}
	return nil
}

func fetchStatus(address string) (*status.Report, bool, error) {
	client := &http.Client{Timeout: 10 * time.Second}

	resp, err := client.Get(fmt.Sprintf("http://%s/status", address))
	if err != nil {
		return nil, false, fmt.Errorf("failed to reach status server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read status response: %w", err)
	}

	report := &status.Report{}
	if err := json.Unmarshal(body, report); err != nil {
		return nil, false, fmt.Errorf("failed to decode status response: %w", err)
	}

	return report, resp.StatusCode == http.StatusOK, nil
}
