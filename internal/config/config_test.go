package config

import (
	"os"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("plant-a")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Plant.ID != "plant-a" || cfg.Numbering.WOPrefix != "WO" || cfg.Generation.MaxBatches != 100 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Generation.RejectInvalidBOM {
		t.Fatalf("reject_invalid_bom should default to false")
	}
}

func TestFromYAMLAppliesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("plant:\n  id: p1\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Numbering.MOPrefix != "MO" || cfg.Server.BasePath != "/v1" || cfg.Log.Format != "console" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestValidateErrors(t *testing.T) {
	cases := map[string]string{
		"missing plant":    "numbering:\n  mo_prefix: MO\n",
		"bad prefix":       "plant:\n  id: p\nnumbering:\n  wo_prefix: wo-\n",
		"duplicate prefix": "plant:\n  id: p\nnumbering:\n  mo_prefix: X\n  wo_prefix: X\n",
		"bad url":          "plant:\n  id: p\nsubcontract:\n  url: ftp://example\n",
		"bad level":        "plant:\n  id: p\nlog:\n  level: loud\n",
		"bad base path":    "plant:\n  id: p\nserver:\n  base_path: v1\n",
		"negative batches": "plant:\n  id: p\ngeneration:\n  max_batches: -1\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := FromYAML([]byte(doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadOptionalFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if cfg == nil || cfg.Numbering.MIPrefix != "MI" {
		t.Fatalf("expected default config, got %+v", cfg)
	}
	if err := os.WriteFile(Path(dir), []byte(GenerateDefault("p2")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Plant.ID != "p2" {
		t.Fatalf("plant id %s", cfg.Plant.ID)
	}
	if err := os.WriteFile(Path(dir), []byte("plant: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOptional(dir); err == nil || !strings.Contains(err.Error(), "invalid config yaml") {
		t.Fatalf("expected yaml error, got %v", err)
	}
}
