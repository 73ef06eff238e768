package confkit

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

var (
	dotenvOnce   sync.Once
	dotenvLoaded []string
)

// LoadDotenvOnce loads .env files before any config is parsed.
//
//   - NO_DOTENV=1 disables loading.
//   - ENV_FILE names explicit files (comma-separated) and skips discovery.
//   - Otherwise <root>/.env.<APP_ENV> and <root>/.env are loaded; the
//     APP_ENV file takes precedence.
//
// Variables already in the environment win unless DOTENV_OVERLOAD=1, in
// which case later files win.
func LoadDotenvOnce() {
	dotenvOnce.Do(func() {
		dotenvLoaded = loadDotenv()
	})
}

// DotenvFiles lists the files applied by LoadDotenvOnce.
func DotenvFiles() []string {
	return append([]string(nil), dotenvLoaded...)
}

func loadDotenv() []string {
	if os.Getenv("NO_DOTENV") == "1" {
		return nil
	}
	overload := os.Getenv("DOTENV_OVERLOAD") == "1"

	var candidates []string
	if envFile := strings.TrimSpace(os.Getenv("ENV_FILE")); envFile != "" {
		for _, p := range strings.Split(envFile, ",") {
			if p = strings.TrimSpace(p); p != "" {
				candidates = append(candidates, p)
			}
		}
	} else {
		root, _ := ProjectRoot()
		candidates = append(candidates, filepath.Join(root, ".env"))
		if env := strings.TrimSpace(os.Getenv("APP_ENV")); env != "" {
			specific := filepath.Join(root, ".env."+strings.ToLower(env))
			if overload {
				candidates = append(candidates, specific)
			} else {
				candidates = append([]string{specific}, candidates...)
			}
		}
	}

	var loaded []string
	for _, p := range candidates {
		if !fileExists(p) {
			continue
		}
		var err error
		if overload {
			err = godotenv.Overload(p)
		} else {
			err = godotenv.Load(p)
		}
		if err == nil {
			loaded = append(loaded, p)
		}
	}
	return loaded
}
