package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/rekindle/rekindle/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		address string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent transitions of a running instance",
		Long: `List the transition history recorded by a running rekindle instance,
newest first. Requires the instance to have the history store enabled.`,
		Example: `  # Show the last 20 transitions
  rekindle history --limit 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printHistory(address, limit)
		},
	}

	cmd.Flags().StringVar(&address, "address", "localhost:8484", "status server address")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of transitions to list")

	return cmd
}

func printHistory(address string, limit int) error {
	client := &http.Client{Timeout: 10 * time.Second}

	resp, err := client.Get(fmt.Sprintf("http://%s/transitions?limit=%d", address, limit))
	if err != nil {
		return fmt.Errorf("failed to reach status server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read history response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("history request failed: %s", string(body))
	}

	var payload struct {
		Transitions []*stores.Transition `json:"transitions"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("failed to decode history response: %w", err)
	}

	if jsonOutput {
		data, err := json.MarshalIndent(payload.Transitions, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(payload.Transitions) == 0 {
		fmt.Println("No transitions recorded.")
		return nil
	}
	for _, t := range payload.Transitions {
		line := fmt.Sprintf("%s  %-5s %-9s %4dms  components=%s",
			t.FinishedAt.Format(time.RFC3339), t.Op, t.State, t.DurationMS, t.Components)
		if t.FailedComponent != nil {
			line += fmt.Sprintf("  failed=%s", *t.FailedComponent)
		}
		if t.Error != nil {
			line += fmt.Sprintf("  error=%q", *t.Error)
		}
		fmt.Println(line)
	}
	return nil
}
