package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/user/rag-service/internal/entity"
	"github.com/user/rag-service/internal/repository"
)

type tenantFile struct {
	Tenants []entity.Tenant `yaml:"tenants"`
}

// parseTenants reads a tenant seed file. Every tenant needs an id and at
// least one domain; a missing status means active.
func parseTenants(r io.Reader) ([]entity.Tenant, error) {
	var f tenantFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse tenants: %w", err)
	}
	seen := map[string]bool{}
	for i := range f.Tenants {
		t := &f.Tenants[i]
		if t.ID == "" {
			return nil, fmt.Errorf("tenant #%d has no id", i+1)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("tenant %s is listed twice", t.ID)
		}
		seen[t.ID] = true
		if len(t.Domains) == 0 {
			return nil, fmt.Errorf("tenant %s has no domains", t.ID)
		}
		if t.Status == "" {
			t.Status = entity.TenantActive
		}
	}
	return f.Tenants, nil
}

func syncTenantsFile(ctx context.Context, repo repository.TenantRepository, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	tenants, err := parseTenants(f)
	if err != nil {
		return 0, err
	}
	for i := range tenants {
		if err := repo.Upsert(ctx, &tenants[i]); err != nil {
			return 0, fmt.Errorf("upsert tenant %s: %w", tenants[i].ID, err)
		}
	}
	return len(tenants), nil
}

func tenantsCMD(opts *globalOpts) *cobra.Command {
	tenants := &cobra.Command{
		Use:   "tenants",
		Short: "Manage tenants",
	}

	var file string
	sync := &cobra.Command{
		Use:   "sync",
		Short: "Upsert tenants from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := openApp(cmd.Context(), &globalOpts{logLevel: opts.logLevel})
			if err != nil {
				return err
			}
			defer a.Close()
			n, err := syncTenantsFile(cmd.Context(), a.Tenants, file)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced %d tenants\n", n)
			return nil
		},
	}
	sync.Flags().StringVarP(&file, "file", "f", "", "tenant YAML file")
	_ = sync.MarkFlagRequired("file")

	tenants.AddCommand(sync)
	return tenants
}
