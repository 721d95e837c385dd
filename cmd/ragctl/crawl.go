package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/user/rag-service/internal/usecase"
)

func crawlCMD(opts *globalOpts) *cobra.Command {
	var maxPages int

	crawl := &cobra.Command{
		Use:   "crawl <tenant>",
		Short: "Run a crawl job in the foreground and print the finished job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			req := usecase.CrawlJobRequest{}
			if maxPages > 0 {
				t, err := a.Tenants.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				settings := t.CrawlSettings
				settings.MaxPages = maxPages
				req.Settings = &settings
			}

			job, err := a.Ingest.Run(cmd.Context(), args[0], req)
			if job != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				_ = enc.Encode(job)
			}
			return err
		},
	}
	crawl.Flags().IntVar(&maxPages, "max-pages", 0, "override the tenant's page limit")
	return crawl
}
