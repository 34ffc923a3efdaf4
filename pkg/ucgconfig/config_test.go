package ucgconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

func TestLoadFileOverlaysOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ucg.yaml")
	if err := os.WriteFile(path, []byte("salt: custom-salt\nenable_cfg: false\nzstd_level: 9\n"), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := LoadFile(Default(), path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Salt != "custom-salt" {
		t.Errorf("expected salt overlaid from file, got %q", cfg.Salt)
	}
	if cfg.EnableCFG {
		t.Error("expected enable_cfg overlaid to false")
	}
	if cfg.ZstdLevel != 9 {
		t.Errorf("expected zstd_level overlaid to 9, got %d", cfg.ZstdLevel)
	}
	// A field the file doesn't mention keeps its default.
	if !cfg.EnableDFG {
		t.Error("expected enable_dfg to keep its default value of true")
	}
}

func TestLoadFileEmptyPathIsNoOp(t *testing.T) {
	cfg, err := LoadFile(Default(), "")
	if err != nil {
		t.Fatalf("LoadFile with empty path should not error: %v", err)
	}
	if cfg != Default() {
		t.Error("expected an empty path to leave the config unchanged")
	}
}

func TestLoadFileMissingFileErrors(t *testing.T) {
	_, err := LoadFile(Default(), "/nonexistent/path/ucg.yaml")
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

// Flags bound via BindFlags win over both defaults and a loaded file, per
// the defaults -> file -> flags precedence documented on BindFlags.
func TestBindFlagsOverridesFileValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ucg.yaml")
	if err := os.WriteFile(path, []byte("zstd_level: 9\n"), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := LoadFile(Default(), path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs, &cfg)
	if err := fs.Parse([]string{"--zstd-level=1"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.ZstdLevel != 1 {
		t.Errorf("expected flag to override file value, got zstd_level=%d", cfg.ZstdLevel)
	}
}

func TestHashDeterministicAndSensitiveToContentAffectingFields(t *testing.T) {
	a := Default()
	b := Default()
	if a.Hash() != b.Hash() {
		t.Fatal("expected identical configs to hash identically")
	}

	c := Default()
	c.Salt = "different-salt"
	if a.Hash() == c.Hash() {
		t.Fatal("expected a different salt to change the config hash")
	}

	d := Default()
	d.EnableDFG = false
	if a.Hash() == d.Hash() {
		t.Fatal("expected a different enable_dfg to change the config hash")
	}
}
