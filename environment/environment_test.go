package environment

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeKernelJSON(t *testing.T, dir, name string, spec KernelSpec) string {
	t.Helper()
	kernelDir := filepath.Join(dir, "kernels", name)
	if err := os.MkdirAll(kernelDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	path := filepath.Join(kernelDir, "kernel.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestListKernelsFromPath(t *testing.T) {
	dir := t.TempDir()
	writeKernelJSON(t, dir, "python3", KernelSpec{
		Argv:        []string{"python3", "-m", "ipykernel_launcher", "-f", "{connection_file}"},
		DisplayName: "Python 3",
		Language:    "python",
	})

	found := listKernelsFromPath(dir)
	if len(found) != 1 {
		t.Fatalf("expected 1 kernel, got %d", len(found))
	}
	if found[0].Spec.DisplayName != "Python 3" {
		t.Errorf("DisplayName = %q, want Python 3", found[0].Spec.DisplayName)
	}
	if found[0].Spec.InterruptMode != InterruptSignal {
		t.Errorf("InterruptMode default = %q, want signal", found[0].Spec.InterruptMode)
	}
}

func TestListKernelsFromPathSkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	badDir := filepath.Join(dir, "kernels", "broken")
	if err := os.MkdirAll(badDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(badDir, "kernel.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	writeKernelJSON(t, dir, "ok", KernelSpec{Argv: []string{"ok"}, DisplayName: "OK", Language: "ok"})

	found := listKernelsFromPath(dir)
	if len(found) != 1 || found[0].Spec.DisplayName != "OK" {
		t.Fatalf("expected only the well-formed kernel, got %+v", found)
	}
}

func TestListKernelsFromPathMissingDir(t *testing.T) {
	found := listKernelsFromPath(filepath.Join(t.TempDir(), "does-not-exist"))
	if found != nil {
		t.Fatalf("expected nil, got %+v", found)
	}
}

func TestDataDirRespectsOverride(t *testing.T) {
	t.Setenv("JUPYTER_DATA_DIR", "/tmp/custom-jupyter")
	if got := DataDir(); got != "/tmp/custom-jupyter" {
		t.Errorf("DataDir() = %q, want /tmp/custom-jupyter", got)
	}
}

func TestRuntimeDirRespectsOverride(t *testing.T) {
	t.Setenv("JUPYTER_RUNTIME_DIR", "/tmp/custom-runtime")
	if got := RuntimeDir(); got != "/tmp/custom-runtime" {
		t.Errorf("RuntimeDir() = %q, want /tmp/custom-runtime", got)
	}
}

func TestInterruptModeExplicit(t *testing.T) {
	dir := t.TempDir()
	writeKernelJSON(t, dir, "msg", KernelSpec{
		Argv:          []string{"k"},
		DisplayName:   "Msg",
		Language:      "msg",
		InterruptMode: InterruptMessage,
	})
	found := listKernelsFromPath(dir)
	if len(found) != 1 || found[0].Spec.InterruptMode != InterruptMessage {
		t.Fatalf("expected message interrupt mode, got %+v", found)
	}
}
