//go:build !tinygo

package nvs

import (
	"errors"
	"path/filepath"
	"testing"

	"pwmlight-go/errcode"
)

func TestSQLiteRoundTripAcrossOpen(t *testing.T) {
	f := NewSQLite(filepath.Join(t.TempDir(), "nvs.db"))
	st, err := Init(f)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := st.Set("node", "id", []byte("n-1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := st.Set("node", "id", []byte("n-2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	st.Close()

	st, err = Init(f)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	if v, err := st.Get("node", "id"); err != nil || string(v) != "n-2" {
		t.Fatalf("Get=%q,%v", v, err)
	}
	if err := st.Delete("node", "nope"); !errors.Is(err, errcode.NVSNotFound) {
		t.Fatalf("Delete missing: %v", err)
	}
	if err := st.EraseAll(); err != nil {
		t.Fatalf("EraseAll: %v", err)
	}
	if _, err := st.Get("node", "id"); !errors.Is(err, errcode.NVSNotFound) {
		t.Fatalf("Get after EraseAll: %v", err)
	}
}

func TestSQLiteNewerFormatIsErased(t *testing.T) {
	f := NewSQLite(filepath.Join(t.TempDir(), "nvs.db"))
	st, _ := Init(f)
	st.Set("node", "id", []byte("old"))
	st.Close()
	if err := f.Stamp(FormatVersion + 1); err != nil {
		t.Fatalf("Stamp: %v", err)
	}

	if _, err := f.Open(); !errors.Is(err, errcode.NVSNewVersionFound) {
		t.Fatalf("Open: %v", err)
	}
	st, err := Init(f)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer st.Close()
	if _, err := st.Get("node", "id"); !errors.Is(err, errcode.NVSNotFound) {
		t.Fatalf("Get after erase: %v", err)
	}
}

func TestSQLiteEntryBudget(t *testing.T) {
	f := NewSQLite(filepath.Join(t.TempDir(), "nvs.db"))
	f.MaxEntries = 2
	st, err := Init(f)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	st.Set("a", "1", []byte("x"))
	st.Set("a", "2", []byte("x"))
	if err := st.Set("a", "3", []byte("x")); !errors.Is(err, errcode.NVSNoFreePages) {
		t.Fatalf("third Set: %v", err)
	}
	// Overwrites stay within budget.
	if err := st.Set("a", "2", []byte("y")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	st.Close()

	st, err = Init(f)
	if err != nil {
		t.Fatalf("Init full: %v", err)
	}
	defer st.Close()
	if _, err := st.Get("a", "1"); !errors.Is(err, errcode.NVSNotFound) {
		t.Fatalf("full partition not erased: %v", err)
	}
}
