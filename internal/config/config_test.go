package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"opsdesk/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("portal-1")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Portal.ID != "portal-1" || cfg.DefaultPriority != "normal" {
		t.Fatalf("unexpected default %+v", cfg)
	}
	want := domain.Badge{Code: domain.StatusDoing, Label: "Đang làm", Color: "#2196F3", Level: 1}
	if diff := cmp.Diff(want, cfg.StatusBadge(domain.StatusDoing)); diff != "" {
		t.Fatalf("status badge mismatch (-want +got):\n%s", diff)
	}
	if got := cfg.PriorityBadge("mystery"); got.Label != "mystery" || got.Code != "mystery" {
		t.Fatalf("unknown priority should fall back to its code, got %+v", got)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing status", func(c *Config) { delete(c.Statuses, domain.StatusFinished) }, "statuses.finished"},
		{"unknown status", func(c *Config) { c.Statuses["archived"] = BadgeDef{Label: "x"} }, "unknown status archived"},
		{"default priority", func(c *Config) { c.DefaultPriority = "p0" }, "default_priority p0"},
		{"bad role", func(c *Config) {
			c.Directory.Members = []MemberSeed{{ID: "u1", Role: "owner"}}
		}, "invalid role"},
		{"unknown group member", func(c *Config) {
			c.Directory.Groups = []GroupSeed{{ID: "g1", Members: []string{"ghost"}}}
		}, "unknown member ghost"},
		{"duplicate work type", func(c *Config) {
			c.Directory.Groups = []GroupSeed{
				{ID: "g1", WorkTypes: []WorkTypeSeed{{ID: "wt"}}},
				{ID: "g2", WorkTypes: []WorkTypeSeed{{ID: "wt"}}},
			}
		}, "declared twice"},
		{"duplicate variant", func(c *Config) {
			c.Directory.Groups = []GroupSeed{{ID: "g1", WorkTypes: []WorkTypeSeed{{ID: "wt", Variants: []VariantSeed{{ID: "v"}, {ID: "v"}}}}}}
		}, "duplicate variant v"},
		{"webhook url", func(c *Config) { c.Webhooks = []WebhookConfig{{}} }, "webhooks[0].url"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default("p")
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestWarnings(t *testing.T) {
	cfg := Default("p")
	cfg.Directory.Groups = []GroupSeed{{
		ID: "g1",
		WorkTypes: []WorkTypeSeed{
			{ID: "a", Variants: []VariantSeed{{ID: "v1", Default: true}, {ID: "v2", Default: true}}},
			{ID: "b", DefaultVariant: "missing", Variants: []VariantSeed{{ID: "v1"}}},
			{ID: "c", DefaultVariant: "v1", Variants: []VariantSeed{{ID: "v1"}}},
		},
	}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("warnings must not fail validation: %v", err)
	}
	got := cfg.Warnings()
	if len(got) != 2 || !strings.Contains(got[0], "work type a") || !strings.Contains(got[1], "default_variant missing") {
		t.Fatalf("unexpected warnings %v", got)
	}
}

func TestYAMLRoundTripThroughWorkspace(t *testing.T) {
	dir := t.TempDir()
	if cfg, err := LoadOptional(dir); err != nil || cfg != nil {
		t.Fatalf("expected nil config for empty workspace, got %v %v", cfg, err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected missing config error")
	}
	seed := `portal:
  id: kho
statuses:
  todo: {label: Todo, level: 0}
  doing: {label: Doing, level: 1}
  need_to_verified: {label: Verify, level: 2}
  finished: {label: Done, level: 3}
priorities:
  normal: {label: Normal}
default_priority: normal
directory:
  members:
    - {id: lead1, role: lead}
  groups:
    - id: g1
      name: Kho
      members: [lead1]
      work_types:
        - id: wt
          name: Nhập
          variants:
            - {id: v1, name: A, default: true, template: ["Đếm", "Ký"]}
remote:
  base_url: http://remote
  api_key: secret
`
	if err := os.WriteFile(filepath.Join(dir, "opsdesk.yml"), []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Portal.ID != "kho" || cfg.Remote.APIKey != "secret" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if diff := cmp.Diff([]string{"Đếm", "Ký"}, cfg.Directory.Groups[0].WorkTypes[0].Variants[0].Template); diff != "" {
		t.Fatalf("template mismatch (-want +got):\n%s", diff)
	}
	out, err := cfg.ToYAML()
	if err != nil {
		t.Fatal(err)
	}
	again, err := FromYAML(out)
	if err != nil {
		t.Fatalf("re-parse: %v", err)
	}
	if diff := cmp.Diff(cfg, again); diff != "" {
		t.Fatalf("config changed across YAML (-want +got):\n%s", diff)
	}
}

func TestGenerateDefaultParses(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault("portal-x")))
	if err != nil {
		t.Fatalf("generated default invalid: %v", err)
	}
	if cfg.Portal.ID != "portal-x" || len(cfg.Priorities) != 4 {
		t.Fatalf("unexpected generated config %+v", cfg)
	}
}
