package main

import (
	"path/filepath"
	"testing"

	"github.com/Techinsane-official/scrapper/config"
)

func TestApplyFlagsOverridesOnlySetValues(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.CatalogPath = "from-file.db"

	applyFlags(cfg, flagOverrides{
		urlsFile:     "urls.txt",
		outputFormat: "XLSX",
		batchSize:    25,
	})

	if cfg.URLsFile != "urls.txt" || cfg.OutputFormat != "xlsx" || cfg.BatchSize != 25 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.CatalogPath != "from-file.db" {
		t.Fatalf("unset flag replaced catalog path: %q", cfg.CatalogPath)
	}
	if cfg.OutputFile != config.DefaultConfig().OutputFile {
		t.Fatalf("unset flag replaced output file: %q", cfg.OutputFile)
	}
}

func TestCreateWriter(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"csv":  "products.csv",
		"json": "products.json",
		"dual": "dual.csv",
		"xlsx": "products.xlsx",
	}
	for format, name := range files {
		w, err := createWriter(format, filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("createWriter(%q): %v", format, err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close %s writer: %v", format, err)
		}
	}
	if _, err := createWriter("yaml", filepath.Join(dir, "out.yaml")); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}

func TestOpenCatalogDefaultsToMemory(t *testing.T) {
	store, err := openCatalog("")
	if err != nil {
		t.Fatalf("open memory catalog: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store, err = openCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open sqlite catalog: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close sqlite: %v", err)
	}
}
