package godb

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCatalogParsesTextFormat(t *testing.T) {
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "catalog.txt")
	contents := "# comment line\nt (id int, name string)\n"
	if err := os.WriteFile(catalogPath, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	bp, err := NewBufferPool(4)
	if err != nil {
		t.Fatal(err)
	}
	cat, err := NewCatalog(catalogPath, bp, dir)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	info, err := cat.GetTableInfoName("t")
	if err != nil {
		t.Fatalf("GetTableInfoName: %v", err)
	}
	if len(info.Descriptor().Fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(info.Descriptor().Fields))
	}
	if info.Descriptor().Fields[0].Ftype != IntType || info.Descriptor().Fields[1].Ftype != StringType {
		t.Fatalf("unexpected field types: %+v", info.Descriptor().Fields)
	}

	byID, err := cat.GetTableInfoId(int(info.ID()))
	if err != nil {
		t.Fatalf("GetTableInfoId: %v", err)
	}
	if byID.Name() != "t" {
		t.Fatalf("GetTableInfoId returned table %q, want \"t\"", byID.Name())
	}
}

func TestCatalogMissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	bp, err := NewBufferPool(4)
	if err != nil {
		t.Fatal(err)
	}
	cat, err := NewCatalog(filepath.Join(dir, "nope.txt"), bp, dir)
	if err != nil {
		t.Fatalf("missing catalog file should not error: %v", err)
	}
	if _, err := cat.GetTableInfoName("t"); err == nil {
		t.Fatal("expected an error looking up a table in an empty catalog")
	}
}
