package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ledgerline/filings-orchestrator/internal/bus"
	"github.com/ledgerline/filings-orchestrator/internal/tui"
)

func watchCmd() *cobra.Command {
	var baseURL string

	cmd := &cobra.Command{
		Use:   "watch <project-id>",
		Short: "Attach a terminal UI to a project's progress stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := args[0]
			events, errs := streamSSE(cmd.Context(), strings.TrimRight(baseURL, "/")+"/api/projects/"+projectID+"/progress-stream")

			model := tui.NewModel(projectID, events)
			program := tea.NewProgram(model)
			if _, err := program.Run(); err != nil {
				return err
			}
			select {
			case err := <-errs:
				return err
			default:
				return nil
			}
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:8080", "API base URL")
	return cmd
}

// streamSSE issues the GET and decodes `data: {...}` lines into bus.Event
// values on a channel, closing it when the response body ends.
func streamSSE(ctx context.Context, url string) (<-chan bus.Event, <-chan error) {
	events := make(chan bus.Event, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(events)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			errs <- err
			return
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			errs <- fmt.Errorf("progress stream returned status %d", resp.StatusCode)
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev bus.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				continue
			}
			events <- ev
			if ev.Type == bus.EventStreamEnd {
				return
			}
		}
	}()

	return events, errs
}
