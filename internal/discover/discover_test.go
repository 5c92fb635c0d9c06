package discover

import (
	"os"
	"path/filepath"
	"testing"
)

func alwaysOlympus(_ []byte) bool { return true }
func neverOlympus(_ []byte) bool  { return false }

func TestClassifyEts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slide.ets")
	if err := os.WriteFile(path, []byte("ETS0rest-of-file"), 0644); err != nil {
		t.Fatal(err)
	}
	res, err := Classify(path, neverOlympus)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Format != Ets {
		t.Fatalf("expected Ets, got %v", res.Format)
	}
}

func TestClassifyEtsBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slide.ets")
	if err := os.WriteFile(path, []byte("XXXXrest"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Classify(path, neverOlympus)
	if _, ok := err.(*BadMagicError); !ok {
		t.Fatalf("expected BadMagicError, got %T: %v", err, err)
	}
}

func TestClassifyRejectedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slide.png")
	if err := os.WriteFile(path, []byte("ignored"), 0644); err != nil {
		t.Fatal(err)
	}
	res, err := Classify(path, neverOlympus)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Format != Rejected {
		t.Fatalf("expected Rejected, got %v", res.Format)
	}
}

func TestClassifyVsiResolvesSidecar(t *testing.T) {
	dir := t.TempDir()
	vsiPath := filepath.Join(dir, "slide.vsi")
	if err := os.WriteFile(vsiPath, []byte("unused"), 0644); err != nil {
		t.Fatal(err)
	}
	stackDir := filepath.Join(dir, "_slide_", "stack10001")
	if err := os.MkdirAll(stackDir, 0755); err != nil {
		t.Fatal(err)
	}
	framePath := filepath.Join(stackDir, "frame_t.ets")
	if err := os.WriteFile(framePath, []byte("ETS0"), 0644); err != nil {
		t.Fatal(err)
	}

	res, err := Classify(vsiPath, neverOlympus)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Format != Vsi {
		t.Fatalf("expected Vsi, got %v", res.Format)
	}
	if res.Sidecar != framePath {
		t.Fatalf("expected sidecar %s, got %s", framePath, res.Sidecar)
	}
	if res.SidecarFmt != Ets {
		t.Fatalf("expected Ets sidecar format, got %v", res.SidecarFmt)
	}
}

func TestClassifyVsiMissingSidecarDir(t *testing.T) {
	dir := t.TempDir()
	vsiPath := filepath.Join(dir, "slide.vsi")
	if err := os.WriteFile(vsiPath, []byte("unused"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Classify(vsiPath, neverOlympus)
	if _, ok := err.(*NotFoundError); !ok {
		t.Fatalf("expected NotFoundError, got %T: %v", err, err)
	}
}
