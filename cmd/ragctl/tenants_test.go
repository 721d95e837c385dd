package main

import (
	"strings"
	"testing"
	"time"

	"github.com/user/rag-service/internal/entity"
)

const seedYAML = `
tenants:
  - id: acme
    name: Acme
    display_name: Acme Corp
    crawl_schedule: "0 3 * * *"
    crawl_settings:
      max_pages: 50
      crawl_delay_ms: 500
      respect_robots: true
    domains:
      - url: https://acme.test
        specific_pages: [/pricing, /faq]
      - url: https://docs.acme.test
        settings:
          max_pages: 20
          excluded_paths: [/archive]
`

func TestParseTenants(t *testing.T) {
	tenants, err := parseTenants(strings.NewReader(seedYAML))
	if err != nil {
		t.Fatalf("parseTenants: %v", err)
	}
	if len(tenants) != 1 {
		t.Fatalf("expected 1 tenant, got %d", len(tenants))
	}
	acme := tenants[0]
	if acme.Status != entity.TenantActive {
		t.Fatalf("expected default status active, got %q", acme.Status)
	}
	if acme.CrawlSettings.CrawlDelay() != 500*time.Millisecond || !acme.CrawlSettings.ObeysRobots(false) {
		t.Fatalf("unexpected crawl settings %+v", acme.CrawlSettings)
	}
	if len(acme.Domains) != 2 || len(acme.Domains[0].SpecificPages) != 2 {
		t.Fatalf("unexpected domains %+v", acme.Domains)
	}
	if acme.Domains[1].Settings == nil || acme.Domains[1].Settings.MaxPages != 20 {
		t.Fatalf("expected per-domain settings, got %+v", acme.Domains[1].Settings)
	}
}

func TestParseTenantsRejectsInvalidFiles(t *testing.T) {
	tests := map[string]string{
		"missing id":    "tenants:\n  - name: x\n    domains: [{url: https://x.test}]\n",
		"no domains":    "tenants:\n  - id: x\n",
		"duplicate id":  "tenants:\n  - id: x\n    domains: [{url: https://x.test}]\n  - id: x\n    domains: [{url: https://y.test}]\n",
		"unknown field": "tenants:\n  - id: x\n    colour: red\n    domains: [{url: https://x.test}]\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := parseTenants(strings.NewReader(doc)); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}
