// Package environment locates installed Jupyter kernel specs and resolves
// the data/runtime directories used to stage connection files.
//
// Grounded on environment.rs from the original jute implementation: the
// search path construction and directory layout are preserved exactly.
package environment

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// InterruptMode describes how a kernel expects to be interrupted.
type InterruptMode string

const (
	InterruptSignal  InterruptMode = "signal"
	InterruptMessage InterruptMode = "message"
)

// KernelSpec is the parsed contents of a kernel.json file.
type KernelSpec struct {
	Argv          []string          `json:"argv"`
	DisplayName   string            `json:"display_name"`
	Language      string            `json:"language"`
	InterruptMode InterruptMode     `json:"interrupt_mode"`
	Env           map[string]string `json:"env"`
}

// kernelSpecJSON mirrors KernelSpec but lets interrupt_mode default to
// InterruptSignal when absent, matching serde's #[serde(default)].
type kernelSpecJSON struct {
	Argv          []string          `json:"argv"`
	DisplayName   string            `json:"display_name"`
	Language      string            `json:"language"`
	InterruptMode InterruptMode     `json:"interrupt_mode"`
	Env           map[string]string `json:"env"`
}

func (s *KernelSpec) UnmarshalJSON(b []byte) error {
	var raw kernelSpecJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.InterruptMode == "" {
		raw.InterruptMode = InterruptSignal
	}
	*s = KernelSpec(raw)
	return nil
}

// FoundKernel is one kernel.json discovered on the search path.
type FoundKernel struct {
	Path string
	Spec KernelSpec
}

// dataSearchPaths returns the ordered list of directories to check for
// installed kernels, per the Jupyter data-files specification.
func dataSearchPaths(interpreterPrefix string) []string {
	var dirs []string

	if jupyterPath, ok := os.LookupEnv("JUPYTER_PATH"); ok {
		sep := ":"
		if runtime.GOOS == "windows" {
			sep = ";"
		}
		dirs = append(dirs, strings.Split(jupyterPath, sep)...)
	}

	dirs = append(dirs, DataDir())

	if interpreterPrefix != "" {
		dirs = append(dirs, filepath.Join(interpreterPrefix, "share", "jupyter"))
	}

	if runtime.GOOS == "windows" {
		dirs = append(dirs, filepath.Join(os.Getenv("ProgramData"), "jupyter"))
	} else {
		dirs = append(dirs, "/usr/share/jupyter", "/usr/local/share/jupyter")
	}

	return dirs
}

// DataDir returns the configured directory for Jupyter data files.
func DataDir() string {
	if dir, ok := os.LookupEnv("JUPYTER_DATA_DIR"); ok {
		return dir
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("AppData"), "jupyter")
	case "darwin":
		return filepath.Join(os.Getenv("HOME"), "Library", "Jupyter")
	default:
		if xdg, ok := os.LookupEnv("XDG_DATA_HOME"); ok {
			return filepath.Join(xdg, "jupyter")
		}
		return filepath.Join(os.Getenv("HOME"), ".local", "share", "jupyter")
	}
}

// RuntimeDir returns the directory where connection files are staged.
func RuntimeDir() string {
	if dir, ok := os.LookupEnv("JUPYTER_RUNTIME_DIR"); ok {
		return dir
	}
	return filepath.Join(DataDir(), "runtime")
}

// ListKernels walks the search path and returns every discovered kernel spec,
// in path order. Unreadable directories and malformed kernel.json files are
// skipped silently; this function never fails.
func ListKernels(interpreterPrefix string) []FoundKernel {
	dirs := dataSearchPaths(interpreterPrefix)
	perDir := make([][]FoundKernel, len(dirs))

	var wg sync.WaitGroup
	for i, dir := range dirs {
		wg.Add(1)
		go func(i int, dir string) {
			defer wg.Done()
			perDir[i] = listKernelsFromPath(dir)
		}(i, dir)
	}
	wg.Wait()

	var found []FoundKernel
	for _, dir := range perDir {
		found = append(found, dir...)
	}
	return found
}

func listKernelsFromPath(dir string) []FoundKernel {
	entries, err := os.ReadDir(filepath.Join(dir, "kernels"))
	if err != nil {
		return nil
	}

	var found []FoundKernel
	for _, entry := range entries {
		kernelPath := filepath.Join(dir, "kernels", entry.Name(), "kernel.json")
		data, err := os.ReadFile(kernelPath)
		if err != nil {
			continue
		}
		var spec KernelSpec
		if err := json.Unmarshal(data, &spec); err != nil {
			continue
		}
		found = append(found, FoundKernel{Path: kernelPath, Spec: spec})
	}
	return found
}
