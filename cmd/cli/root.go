package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	gitlabToken string
	adminAPI    string
)

var rootCmd = &cobra.Command{
	Use:   "bridgectl",
	Short: "bridgectl is the command-line interface for the build bridge.",
	Long:  `A CLI for managing the build bridge service: installing and cleaning GitLab webhooks, and inspecting or overriding delayed build tasks.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&gitlabToken, "gitlab-token", "t", "", "GitLab private token")
	rootCmd.PersistentFlags().StringVar(&adminAPI, "api", "http://localhost:8080", "Base URL of a running bridge instance")

	if err := viper.BindPFlag("GITLAB_TOKEN", rootCmd.PersistentFlags().Lookup("gitlab-token")); err != nil {
		slog.Error("Error binding flag", "error", err)
		os.Exit(1)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}
