package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	rag "github.com/creatorlens/onboarding-rag"
)

func newValidateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and report every problem found",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				fmt.Fprint(cmd.ErrOrStderr(), err.Error())
				return fmt.Errorf("invalid configuration")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration OK: %d models, vectordb=%s, keyword=%s, sessions=%s\n",
				len(cfg.Generation.Models), cfg.VectorDB.Provider, cfg.Pipeline.Keyword.Provider, cfg.Session.Store)
			return nil
		},
	}
}

func ingestFile(cmd *cobra.Command, client *rag.Client, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	docs, err := client.Ingest(cmd.Context(), rag.IngestRequest{Text: string(raw), Title: title, Source: path})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "ingested %s: %d chunks\n", path, len(docs))
	return nil
}
