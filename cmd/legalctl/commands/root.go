package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const Version = "0.1.0"

var (
	serverURL string
	token     string
	plain     bool
)

var rootCmd = &cobra.Command{
	Use:   "legalctl",
	Short: "legalctl - client for the legal QA service",
	Long: `legalctl talks to a running legal QA service. It can ask questions,
review generated answers, inspect threads and mint API tokens.`,
	Version:      Version,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("LEGALQA_SERVER", "http://localhost:8081"),
		"legal QA API base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("LEGALQA_TOKEN"),
		"bearer token (defaults to LEGALQA_TOKEN)")
	rootCmd.PersistentFlags().BoolVar(&plain, "plain", false, "print raw markdown instead of rendering it")

	rootCmd.AddCommand(chatCmd, decideCmd, stateCmd, examplesCmd, tokenCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newClient() *Client { return NewClient(serverURL, token) }

func fail(err error, msg string) error {
	return fmt.Errorf("%s: %w", msg, err)
}
