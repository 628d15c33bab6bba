package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/outpostmail/outpost/internal/config"
	"github.com/outpostmail/outpost/internal/pipeline"
	"github.com/outpostmail/outpost/internal/workqueue"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Queue inspection commands",
}

func init() {
	queueCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show work unit counts by state",
		RunE:  runQueueStats,
	})
	queueCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List work units",
		RunE:  runQueueList,
	})
}

// adminGet queries the running worker's admin endpoint.
func adminGet(path string, out interface{}) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if !cfg.Admin.Enabled {
		return fmt.Errorf("admin server is disabled in configuration")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get("http://" + cfg.Admin.ListenAddr + path)
	if err != nil {
		return fmt.Errorf("is the worker running? %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("admin endpoint returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runQueueStats(cmd *cobra.Command, args []string) error {
	var stats map[string]int
	if err := adminGet("/api/queue/stats", &stats); err != nil {
		return err
	}

	states := make([]string, 0, len(stats))
	for state := range stats {
		states = append(states, state)
	}
	sort.Strings(states)

	total := 0
	for _, state := range states {
		fmt.Printf("%-10s %d\n", state, stats[state])
		total += stats[state]
	}
	fmt.Printf("%-10s %d\n", "total", total)
	return nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	var units []workqueue.UnitStatus
	if err := adminGet("/api/queue/units", &units); err != nil {
		return err
	}

	if len(units) == 0 {
		fmt.Println("queue is empty")
		return nil
	}
	for _, u := range units {
		line := fmt.Sprintf("%-24s %-8s attempt=%d", u.Handle.UniqueKey, u.State, u.Attempt)
		if !u.NextRun.IsZero() && u.State == workqueue.StatePending {
			line += " next=" + u.NextRun.Format(time.RFC3339)
		}
		if reason, ok := u.Failure[pipeline.FailureKey]; ok {
			line += " error=" + reason
		}
		fmt.Println(line)
	}
	return nil
}
