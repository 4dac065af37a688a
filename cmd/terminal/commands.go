package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/skravchuk/buildbridge/internal/core"
)

const requestTimeout = 15 * time.Second

// bridgeClient talks to the admin API of a running bridge instance.
type bridgeClient struct {
	baseURL string
	http    *http.Client
}

func newBridgeClient(baseURL string) *bridgeClient {
	return &bridgeClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

func (c *bridgeClient) listTasks(ctx context.Context, status *core.TaskStatus) ([]core.DelayedTask, error) {
	url := c.baseURL + "/admin/api/v1/delayed-task"
	if status != nil {
		url += "?status=" + string(*status)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach bridge at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var body struct {
		Tasks []core.DelayedTask `json:"tasks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Tasks, nil
}

func (c *bridgeClient) changeStatus(ctx context.Context, id int64, next core.TaskStatus) (*core.DelayedTask, error) {
	payload, err := json.Marshal(map[string]string{"status": string(next)})
	if err != nil {
		return nil, err
	}

	url := c.baseURL + "/admin/api/v1/delayed-task/" + strconv.FormatInt(id, 10) + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach bridge at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var task core.DelayedTask
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return nil, err
	}
	return &task, nil
}

func apiError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("bridge returned %s: %s", resp.Status, bytes.TrimSpace(msg))
}

func loadTasksCmd(client *bridgeClient, status *core.TaskStatus) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		tasks, err := client.listTasks(ctx, status)
		return tasksLoadedMsg{tasks: tasks, err: err}
	}
}

func changeStatusCmd(client *bridgeClient, id int64, next core.TaskStatus) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		task, err := client.changeStatus(ctx, id, next)
		return statusChangedMsg{task: task, err: err}
	}
}

func refreshTickCmd(every time.Duration) tea.Cmd {
	return tea.Tick(every, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}
