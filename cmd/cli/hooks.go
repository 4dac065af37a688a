package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/skravchuk/buildbridge/internal/config"
	"github.com/skravchuk/buildbridge/internal/core"
	"github.com/skravchuk/buildbridge/internal/gitlab"
	"github.com/skravchuk/buildbridge/internal/logger"
)

var (
	hooksProjectID int
	hooksURL       string
	hooksSecret    string
)

var hooksCmd = &cobra.Command{
	Use:   "hooks",
	Short: "Manage project webhooks on the GitLab host",
}

var hooksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the webhooks installed on a project",
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client, err := newGitLabClient()
		if err != nil {
			return err
		}

		hooks, err := client.GetWebhooks(ctx, hooksProjectID)
		if err != nil {
			return fmt.Errorf("failed to list webhooks: %w", err)
		}

		if len(hooks) == 0 {
			slog.Info("No webhooks installed on project.", "project", hooksProjectID)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tURL\tPUSH\tMERGE REQUESTS")
		for _, h := range hooks {
			fmt.Fprintf(w, "%d\t%s\t%t\t%t\n", h.ID, h.URL, h.PushEvents, h.MergeRequestsEvents)
		}
		return w.Flush()
	},
}

var hooksInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the bridge webhook on a project",
	Long:  `Ensures exactly one webhook pointing at the given bridge endpoint exists on the project. A matching hook is left alone; nothing is duplicated.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		if hooksURL == "" {
			return fmt.Errorf("--url is required")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client, err := newGitLabClient()
		if err != nil {
			return err
		}

		existing, err := client.GetWebhooks(ctx, hooksProjectID)
		if err != nil {
			return fmt.Errorf("failed to list webhooks: %w", err)
		}
		for _, h := range existing {
			if h.URL == hooksURL {
				slog.Info("webhook already installed", "project", hooksProjectID, "hook", h.ID)
				return nil
			}
		}

		hook, err := client.CreateWebhook(ctx, hooksProjectID, &core.WebHook{
			URL:                 hooksURL,
			Token:               hooksSecret,
			PushEvents:          true,
			MergeRequestsEvents: true,
		})
		if err != nil {
			return fmt.Errorf("failed to create webhook: %w", err)
		}

		slog.Info("webhook installed", "project", hooksProjectID, "hook", hook.ID, "url", hook.URL)
		return nil
	},
}

var hooksCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove bridge webhooks from a project",
	Long:  `Deletes every webhook on the project whose URL starts with the given prefix. Used to converge a project after the bridge endpoint moved.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		if hooksURL == "" {
			return fmt.Errorf("--url is required")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client, err := newGitLabClient()
		if err != nil {
			return err
		}

		hooks, err := client.GetWebhooks(ctx, hooksProjectID)
		if err != nil {
			return fmt.Errorf("failed to list webhooks: %w", err)
		}

		removed := 0
		for _, h := range hooks {
			if !strings.HasPrefix(h.URL, hooksURL) {
				continue
			}
			if err := client.DeleteWebhook(ctx, hooksProjectID, h.ID); err != nil {
				return fmt.Errorf("failed to delete webhook %d: %w", h.ID, err)
			}
			slog.Info("webhook removed", "project", hooksProjectID, "hook", h.ID, "url", h.URL)
			removed++
		}

		slog.Info("webhook cleanup complete", "project", hooksProjectID, "removed", removed)
		return nil
	},
}

func newGitLabClient() (gitlab.Client, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if gitlabToken != "" {
		cfg.GitLab.Token = gitlabToken
	}

	log := logger.New(logger.Config{Level: cfg.Logger.Level, Format: "text"}, os.Stderr)
	return gitlab.NewClient(cfg.GitLab, "bridgectl", log)
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	hooksCmd.PersistentFlags().IntVarP(&hooksProjectID, "project", "p", 0, "Numeric project id on the GitLab host")
	hooksCmd.PersistentFlags().StringVar(&hooksURL, "url", "", "Bridge webhook endpoint URL (or URL prefix for clean)")
	hooksInstallCmd.Flags().StringVar(&hooksSecret, "secret", "", "Shared secret sent back in X-Gitlab-Token")
	_ = hooksCmd.MarkPersistentFlagRequired("project")

	hooksCmd.AddCommand(hooksListCmd, hooksInstallCmd, hooksCleanCmd)
	rootCmd.AddCommand(hooksCmd)
}
