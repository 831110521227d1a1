// Command ragserver serves the onboarding assistant over MCP and answers
// one-off questions from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/creatorlens/onboarding-rag/common/logger"
	"github.com/creatorlens/onboarding-rag/config"
)

type globalFlags struct {
	configPath string
	envFiles   []string
	logLevel   string
}

func addGlobalFlags(fs *pflag.FlagSet, g *globalFlags) {
	fs.StringVarP(&g.configPath, "config", "c", "", "path to a YAML or JSON config file")
	fs.StringSliceVar(&g.envFiles, "env-file", nil, "dotenv files to load (default .env when present)")
	fs.StringVar(&g.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}

func (g *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(g.configPath, g.envFiles...)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	logger.Init(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		JSON:       cfg.Log.JSON,
	})
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "ragserver",
		Short:         "Creator onboarding assistant: request orchestration and retrieval-augmented answers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addGlobalFlags(root.PersistentFlags(), g)
	root.AddCommand(newServeCmd(g), newAskCmd(g), newValidateCmd(g))
	return root
}

func main() {
	err := newRootCmd().Execute()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
