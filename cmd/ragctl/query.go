package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/rag-service/internal/entity"
	"github.com/user/rag-service/internal/usecase"
)

func searchCMD(opts *globalOpts) *cobra.Command {
	var (
		limit  int
		mode   string
		expand bool
	)
	search := &cobra.Command{
		Use:   "search <tenant> <query>",
		Short: "Search a tenant's indexed content",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.Retriever.Search(cmd.Context(), strings.Join(args[1:], " "), args[0], entity.SearchOptions{
				Limit:       limit,
				Mode:        entity.SearchMode(mode),
				ExpandQuery: expand,
				SkipCache:   true,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(out, "no results")
				return nil
			}
			for i, r := range results {
				fmt.Fprintf(out, "%2d. %.3f [%s] %s\n    %s\n", i+1, r.Score, r.Source, r.Title, r.URL)
			}
			return nil
		},
	}
	search.Flags().IntVarP(&limit, "limit", "n", 5, "maximum results")
	search.Flags().StringVar(&mode, "mode", string(entity.ModeVector), "vector or hybrid")
	search.Flags().BoolVar(&expand, "expand", false, "expand the query with synonyms")
	return search
}

func askCMD(opts *globalOpts) *cobra.Command {
	var session string
	ask := &cobra.Command{
		Use:   "ask <tenant> <question>",
		Short: "Stream an answer to stdout",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			stream, err := a.Chat.AskStream(cmd.Context(), usecase.ChatRequest{
				TenantID:  args[0],
				SessionID: session,
				Query:     strings.Join(args[1:], " "),
			})
			if err != nil {
				return err
			}
			return printStream(cmd, stream)
		},
	}
	ask.Flags().StringVarP(&session, "session", "s", "", "continue a conversation session")
	return ask
}

func printStream(cmd *cobra.Command, stream *usecase.ChatStream) error {
	out := cmd.OutOrStdout()
	for ev := range stream.Events {
		switch ev.Type {
		case entity.EventToken:
			fmt.Fprint(out, ev.Content)
		case entity.EventError:
			fmt.Fprintln(out)
			return fmt.Errorf("answer failed: %s", ev.Error)
		case entity.EventDone:
			fmt.Fprintln(out)
			if ev.Done == nil {
				continue
			}
			fmt.Fprintf(out, "\nconfidence: %s  session: %s\n", ev.Done.Confidence, stream.SessionID)
			for _, s := range ev.Done.Sources {
				fmt.Fprintf(out, "  - %s (%s)\n", s.Title, s.URL)
			}
		}
	}
	return nil
}
