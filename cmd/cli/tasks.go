package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/skravchuk/buildbridge/internal/core"
)

var (
	tasksStatus string
	tasksLimit  int
	tasksJSON   bool
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect and override delayed build tasks on a running bridge",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List delayed tasks, newest first",
	RunE: func(_ *cobra.Command, _ []string) error {
		url := adminAPI + "/admin/api/v1/delayed-task"
		sep := "?"
		if tasksStatus != "" {
			if _, err := core.ParseTaskStatus(tasksStatus); err != nil {
				return err
			}
			url += sep + "status=" + tasksStatus
			sep = "&"
		}
		if tasksLimit > 0 {
			url += sep + "limit=" + strconv.Itoa(tasksLimit)
		}

		var resp struct {
			Tasks []core.DelayedTask `json:"tasks"`
		}
		if err := adminGet(url, &resp); err != nil {
			return err
		}

		if tasksJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(resp.Tasks)
		}

		if len(resp.Tasks) == 0 {
			fmt.Println("No delayed tasks.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tGROUP/JOB\tMR\tSHA\tSTATUS\tATTEMPTS\tUPDATED")
		for _, t := range resp.Tasks {
			fmt.Fprintf(w, "%d\t%s/%s\t!%d\t%s\t%s\t%d\t%s\n",
				t.ID,
				t.GroupName, t.JobName,
				t.MergeID,
				shortSHA(t.SHA),
				t.Status,
				t.AttemptCount,
				t.UpdatedAt.Format(time.RFC822),
			)
		}
		return w.Flush()
	},
}

var tasksShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a single delayed task",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		var task core.DelayedTask
		if err := adminGet(adminAPI+"/admin/api/v1/delayed-task/"+args[0], &task); err != nil {
			return err
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(task)
	},
}

var tasksRetryCmd = &cobra.Command{
	Use:   "retry [id]",
	Short: "Re-queue a failed task with a fresh attempt budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return changeTaskStatus(args[0], core.StatusPending)
	},
}

var tasksCancelCmd = &cobra.Command{
	Use:   "cancel [id]",
	Short: "Cancel a task so the worker never runs it again",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return changeTaskStatus(args[0], core.StatusCancelled)
	},
}

func changeTaskStatus(id string, next core.TaskStatus) error {
	body, err := json.Marshal(map[string]string{"status": string(next)})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	url := adminAPI + "/admin/api/v1/delayed-task/" + id + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach bridge at %s: %w", adminAPI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("bridge rejected status change: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	var task core.DelayedTask
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return err
	}
	fmt.Printf("task %d is now %s\n", task.ID, task.Status)
	return nil
}

func adminGet(url string, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach bridge at %s: %w", adminAPI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("bridge request failed: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	tasksListCmd.Flags().StringVar(&tasksStatus, "status", "", "Filter by task status")
	tasksListCmd.Flags().IntVar(&tasksLimit, "limit", 0, "Maximum number of tasks to return")
	tasksListCmd.Flags().BoolVar(&tasksJSON, "json", false, "Output tasks as JSON")

	tasksCmd.AddCommand(tasksListCmd, tasksShowCmd, tasksRetryCmd, tasksCancelCmd)
	rootCmd.AddCommand(tasksCmd)
}
