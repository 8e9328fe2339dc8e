package discovery

import (
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
)

// RootStatus is the outcome of scanning one search root. An inaccessible
// root is reported here instead of failing the whole resolution.
type RootStatus struct {
	Root       string `json:"root"`
	Accessible bool   `json:"accessible"`
	Error      string `json:"error,omitempty"`
	Matches    int    `json:"matches"`
}

// Resolution is the expanded set of candidate log files for one source.
type Resolution struct {
	Files []string
	Roots []RootStatus
}

// PathResolver expands search roots and glob patterns into a deduplicated
// list of absolute file paths.
type PathResolver struct {
	logger *pterm.Logger
}

func NewPathResolver(logger *pterm.Logger) *PathResolver {
	return &PathResolver{logger: logger}
}

// Resolve matches every pattern under every root. Roots that cannot be
// read are recorded as inaccessible and skipped; the remaining roots are
// still scanned. A root that is itself a regular file is taken as an
// explicitly configured candidate and bypasses pattern matching.
func (r *PathResolver) Resolve(roots, patterns []string) Resolution {
	res := Resolution{}
	seen := make(map[string]struct{})

	add := func(path string, status *RootStatus) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		res.Files = append(res.Files, abs)
		status.Matches++
	}

	for _, root := range roots {
		status := RootStatus{Root: root}

		info, err := os.Stat(root)
		if err != nil {
			status.Error = err.Error()
			res.Roots = append(res.Roots, status)
			r.logger.Debug("Search root not accessible",
				r.logger.Args("root", root, "error", err))
			continue
		}
		status.Accessible = true

		if info.Mode().IsRegular() {
			add(root, &status)
			res.Roots = append(res.Roots, status)
			continue
		}

		for _, pattern := range patterns {
			matches, err := filepath.Glob(filepath.Join(root, pattern))
			if err != nil {
				// Only malformed patterns error here.
				r.logger.WithCaller().Warn("Invalid file pattern",
					r.logger.Args("root", root, "pattern", pattern, "error", err))
				continue
			}
			for _, match := range matches {
				mi, err := os.Stat(match)
				if err != nil || !mi.Mode().IsRegular() {
					continue
				}
				add(match, &status)
			}
		}
		res.Roots = append(res.Roots, status)
	}

	return res
}
