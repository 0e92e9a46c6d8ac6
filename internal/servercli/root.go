// Package servercli is the cobra command tree for the cursor-runner binary:
// a root command carrying global config flags and a serve subcommand that
// starts the HTTP surface (adapted from the teacher's internal/cli/root.go).
package servercli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cursorrunner/cursor-runner/internal/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cursor-runner",
	Short: "cursor-runner - an HTTP supervisor for agent CLI invocations",
	Long: `cursor-runner accepts execution requests over HTTP, runs the
configured agent CLI under process supervision, optionally iterates it
through a review pass, and reports the result synchronously or via a
callback webhook.

Example:
  cursor-runner serve --port 8080`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.Version = version.Short()
	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .cursor-runner.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose output")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(serveCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error getting working directory:", err)
			os.Exit(1)
		}

		viper.AddConfigPath(cwd)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".cursor-runner")
	}

	viper.SetEnvPrefix("CURSOR_RUNNER")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
