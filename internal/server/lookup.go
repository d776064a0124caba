package server

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// findBinary resolves the program to run. A configured path wins; otherwise
// PATH is searched, followed by the php/ directory of the project and the
// directory gekko itself was installed to. When nothing matches the first
// name is returned and the spawn reports the failure.
func findBinary(configured string, names ...string) string {
	if configured != "" {
		if path, err := exec.LookPath(configured); err == nil {
			return path
		}
		return configured
	}

	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	for _, dir := range bundleDirs() {
		for _, name := range names {
			candidate := filepath.Join(dir, executableName(name))
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate
			}
		}
	}
	return names[0]
}

// findPHPIni returns a php.ini shipped with the project, or "" to let php
// use its compiled in search path.
func findPHPIni() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for _, candidate := range []string{
		filepath.Join(cwd, "php.ini"),
		filepath.Join(cwd, "php", "php.ini"),
	} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

func bundleDirs() []string {
	var dirs []string
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, filepath.Join(cwd, "php"))
	}
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	return dirs
}

func executableName(name string) string {
	if runtime.GOOS == "windows" && filepath.Ext(name) == "" {
		return name + ".exe"
	}
	return name
}
