package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	rag "github.com/creatorlens/onboarding-rag"
	"github.com/creatorlens/onboarding-rag/orchestrator"
)

type askFlags struct {
	workflow string
	session  string
	context  map[string]string
	stream   bool
	jsonOut  bool
	ingest   []string
}

func newAskCmd(g *globalFlags) *cobra.Command {
	f := &askFlags{}
	cmd := &cobra.Command{
		Use:   `ask "question"`,
		Short: "Answer a single question and print the response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			client, err := rag.NewClient(cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx := cmd.Context()
			for _, path := range f.ingest {
				if err := ingestFile(cmd, client, path); err != nil {
					return err
				}
			}
			req := orchestrator.Request{
				Query:        strings.Join(args, " "),
				WorkflowHint: f.workflow,
				SessionID:    f.session,
				UserContext:  f.context,
			}
			out := cmd.OutOrStdout()
			var resp *orchestrator.Response
			if f.stream {
				for ev := range client.ProcessStream(ctx, req) {
					switch ev.Type {
					case orchestrator.EventTypeToken:
						if !f.jsonOut {
							fmt.Fprint(out, ev.Token)
						}
					case orchestrator.EventTypeReset:
						if !f.jsonOut {
							fmt.Fprintln(out)
						}
						fmt.Fprintln(cmd.ErrOrStderr(), "[discarding partial answer, regenerating]")
					case orchestrator.EventTypeState:
						fmt.Fprintf(cmd.ErrOrStderr(), "[%s loop=%d]\n", ev.State, ev.Loop)
					case orchestrator.EventTypeDone:
						resp = ev.Response
					}
				}
				if !f.jsonOut {
					fmt.Fprintln(out)
				}
			} else {
				resp = client.Process(ctx, req)
			}
			if resp == nil {
				return fmt.Errorf("request cancelled")
			}
			if f.jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			printResponse(out, resp, !f.stream)
			if resp.Failure != nil {
				return fmt.Errorf("%s: %s", resp.Failure.Kind, resp.Failure.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&f.workflow, "workflow", "w", "", "workflow hint: qa, deep_reasoning, recommendation, analytics, general")
	cmd.Flags().StringVarP(&f.session, "session", "s", "", "session id for conversation history")
	cmd.Flags().StringToStringVar(&f.context, "context", nil, "user context values, e.g. --context creator_id=c1,niche=cooking")
	cmd.Flags().BoolVar(&f.stream, "stream", false, "print tokens as they are generated")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "print the full response as JSON")
	cmd.Flags().StringSliceVar(&f.ingest, "ingest", nil, "text files to add to the knowledge base before asking")
	return cmd
}

func printResponse(w io.Writer, resp *orchestrator.Response, withText bool) {
	if withText {
		fmt.Fprintln(w, resp.Text)
	}
	if len(resp.Citations) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for _, c := range resp.Citations {
			label := c.Title
			if label == "" {
				label = c.Source
			}
			fmt.Fprintf(w, "  [%d] %s\n", c.Index, label)
		}
	}
	for _, warn := range resp.Warnings {
		fmt.Fprintf(w, "warning: %s: %s\n", warn.Kind, warn.Message)
	}
	fmt.Fprintf(w, "\nworkflow=%s model=%s loops=%d cached=%t\n", resp.WorkflowUsed, resp.Model, resp.Loops, resp.Cached)
}
