// Command kvsd runs the namespaced, content-addressed key-value store
// engine described by this repository: a single binary that serves its
// operations directly (serve), or drives them one-shot against a running
// data directory for scripting and operator use (namespace, checkpoint,
// stats).
package main

import (
	"fmt"
	"os"

	"github.com/nskv/kvsd/pkg/config"
	"github.com/nskv/kvsd/pkg/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kvsd",
	Short: "kvsd - a distributed, namespaced, content-addressed key-value store engine",
	Long: `kvsd stores keys under versioned, content-addressed namespaces.
Every commit produces an immutable tree of blobrefs rooted at a new
version of the namespace; readers resolve keys by walking that tree.`,
	Version: Version,
}

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"kvsd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	config.BindFlags(rootCmd)

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(namespaceCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(dropcacheCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	if logLevel == "" {
		logLevel = "info"
	}

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// loadConfig reads the --config file (if any), then applies any flag the
// user explicitly set on top of it, in that order: flags win.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	config.ApplyFlags(cfg, cmd)
	return cfg, nil
}
