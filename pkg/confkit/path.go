package confkit

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const maxParentHops = 8

// ProjectRoot finds the module root: the nearest directory holding go.mod or
// .git above the working directory, then above this source file.
func ProjectRoot() (string, error) {
	if wd, err := os.Getwd(); err == nil {
		if root, ok := findRoot(wd); ok {
			return root, nil
		}
	}
	if _, file, _, ok := runtime.Caller(0); ok {
		if root, ok := findRoot(filepath.Dir(file)); ok {
			return root, nil
		}
	}
	wd, err := os.Getwd()
	if err != nil {
		return ".", fmt.Errorf("getwd: %w", err)
	}
	return wd, nil
}

func findRoot(dir string) (string, bool) {
	for i := 0; i < maxParentHops; i++ {
		if fileExists(filepath.Join(dir, "go.mod")) || fileExists(filepath.Join(dir, ".git")) {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}
