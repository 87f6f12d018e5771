package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadRulesMergesFilesInNameOrder(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, dir, "20-otx.yaml", `
id: otx-pulses
name: OTX pulse indicators
enabled: true
conditions:
  sources: ["alienvault-*"]
  confidenceMin: 70
actions:
  createRisk: true
`)
	writeFile(t, dir, "10-kev.json", `{
  "id": "kev-exploited",
  "name": "KEV actively exploited",
  "enabled": true,
  "conditions": {"sources": ["cisa-*"], "confidenceMin": 80, "severityMin": "high"},
  "actions": {"createRisk": true, "autoPromoteToDraft": true, "assignPriority": 1}
}`)
	writeFile(t, dir, "README.md", "not a rule")

	rules, err := LoadRules(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(rules))
	}
	if rules[0].ID != "kev-exploited" || rules[1].ID != "otx-pulses" {
		t.Errorf("rule order = %s, %s; want name-sorted", rules[0].ID, rules[1].ID)
	}
	if !rules[0].Actions.AutoPromoteToDraft || rules[0].Actions.AssignPriority != 1 {
		t.Errorf("kev actions = %+v", rules[0].Actions)
	}
	if rules[1].Conditions.ConfidenceMin != 70 {
		t.Errorf("otx confidence floor = %d, want 70", rules[1].Conditions.ConfidenceMin)
	}
}

func TestLoadRulesListFile(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, dir, "rules.json", `[
  {"id": "rule-a", "enabled": true, "actions": {"createRisk": true}},
  {"id": "rule-b", "enabled": false, "actions": {"createRisk": true}}
]`)

	rules, err := LoadRules(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(rules))
	}
	if rules[0].ID != "rule-a" || rules[1].ID != "rule-b" {
		t.Errorf("rules = %s, %s", rules[0].ID, rules[1].ID)
	}
}

func TestLoadRulesBadFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.json", `{"id": `)

	if _, err := LoadRules(dir); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadRulesMissingDir(t *testing.T) {
	if _, err := LoadRules(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "riskwatch.yaml")
	content := `
database_url: postgres://rw:rw@db:5432/riskwatch
listen_addr: ":9090"
sync_interval: 30m
trusted_feeds: ["cisa-kev", "internal-soc"]
org:
  industry: finance
  size: enterprise
  security_maturity: 0.8
slack:
  channel: "#threat-intel"
connectors:
  - id: cisa-kev
  - id: custom-blocklist
    url: https://blocklist.example.com/ips.txt
    polling_interval: 1h
    enabled: false
    filter_tags: ["botnet"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DatabaseURL != "postgres://rw:rw@db:5432/riskwatch" {
		t.Errorf("database url = %s", cfg.DatabaseURL)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("listen addr = %s", cfg.ListenAddr)
	}
	if cfg.SyncInterval != 30*time.Minute {
		t.Errorf("sync interval = %v", cfg.SyncInterval)
	}
	if len(cfg.TrustedFeeds) != 2 || cfg.TrustedFeeds[1] != "internal-soc" {
		t.Errorf("trusted feeds = %v", cfg.TrustedFeeds)
	}
	if cfg.Org.Industry != "finance" || cfg.Org.SecurityMaturity != 0.8 {
		t.Errorf("org = %+v", cfg.Org)
	}
	if cfg.Slack.Channel != "#threat-intel" {
		t.Errorf("slack channel = %s", cfg.Slack.Channel)
	}

	if len(cfg.Connectors) != 2 {
		t.Fatalf("got %d connectors, want 2", len(cfg.Connectors))
	}
	kev := cfg.Connectors[0]
	if kev.ID != "cisa-kev" || !kev.Enabled {
		t.Errorf("kev connector = %+v", kev)
	}
	if kev.PollingInterval != 15*time.Minute {
		t.Errorf("kev polling interval = %v, want normalized default", kev.PollingInterval)
	}
	custom := cfg.Connectors[1]
	if custom.Enabled {
		t.Error("custom connector should honor enabled: false")
	}
	if custom.PollingInterval != time.Hour {
		t.Errorf("custom polling interval = %v, want 1h", custom.PollingInterval)
	}
	if len(custom.FilterTags) != 1 || custom.FilterTags[0] != "botnet" {
		t.Errorf("filter tags = %v", custom.FilterTags)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing named config file")
	}
}

func TestLoadAPIKeyFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "riskwatch.yaml")
	content := `
connectors:
  - id: nvd
    api_key_env: TEST_NVD_API_KEY
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TEST_NVD_API_KEY", "secret-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Connectors) != 1 || cfg.Connectors[0].APIKey != "secret-key" {
		t.Errorf("connectors = %+v, want api key resolved from env", cfg.Connectors)
	}
}
