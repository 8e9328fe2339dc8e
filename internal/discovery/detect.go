package discovery

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mediasentry/internal/config"
	"mediasentry/internal/database/models"
	"mediasentry/internal/database/repositories"
	"mediasentry/internal/parser"

	"github.com/pterm/pterm"
)

// ServiceDetector probes one media service installation and returns the log
// sources it would seed. Detectors only look at the filesystem; persisting
// the result is the engine's job.
type ServiceDetector interface {
	Name() string
	Detect() ([]*models.LogSource, error)
}

// Engine runs every detector at startup and seeds the log_sources table
// with what they find. Existing rows always win so user edits survive
// restarts.
type Engine struct {
	detectors []ServiceDetector
	sources   repositories.LogSourceRepository
	logger    *pterm.Logger
}

// NewEngine builds the detector set from the registered providers. A
// provider that is not registered gets no detector.
func NewEngine(sources repositories.LogSourceRepository, registry *parser.Registry, cfg config.SourcesConfig, logger *pterm.Logger) *Engine {
	e := &Engine{sources: sources, logger: logger}

	if provider, err := registry.Get("jellyfin"); err == nil {
		e.detectors = append(e.detectors, NewJellyfinDetector(provider, cfg, logger))
	}
	if provider, err := registry.Get("servarr"); err == nil {
		e.detectors = append(e.detectors,
			NewServarrDetector("sonarr", cfg.SonarrLogDir, provider, cfg, logger),
			NewServarrDetector("radarr", cfg.RadarrLogDir, provider, cfg, logger),
			NewServarrDetector("prowlarr", cfg.ProwlarrLogDir, provider, cfg, logger),
		)
	}
	return e
}

// Run executes every detector and seeds newly found sources.
func (e *Engine) Run() error {
	for _, detector := range e.detectors {
		found, err := detector.Detect()
		if err != nil {
			e.logger.WithCaller().Warn("Service detection failed",
				e.logger.Args("detector", detector.Name(), "error", err))
			continue
		}
		for _, source := range found {
			created, err := e.sources.CreateIfMissing(source)
			if err != nil {
				return fmt.Errorf("seed source %q: %w", source.Name, err)
			}
			if created {
				e.logger.Info("Log source registered",
					e.logger.Args("source", source.Name, "provider", source.Provider, "paths", source.Paths))
			} else {
				e.logger.Debug("Log source already configured",
					e.logger.Args("source", source.Name))
			}
		}
	}
	return nil
}

// JellyfinDetector finds a Jellyfin log directory, either configured
// explicitly or in the platform's well-known locations.
type JellyfinDetector struct {
	logger        *pterm.Logger
	provider      parser.Provider
	configuredDir string
	autoDiscover  bool
	skipBackfill  bool
}

func NewJellyfinDetector(provider parser.Provider, cfg config.SourcesConfig, logger *pterm.Logger) ServiceDetector {
	return &JellyfinDetector{
		logger:        logger,
		provider:      provider,
		configuredDir: cfg.JellyfinLogDir,
		autoDiscover:  cfg.AutoDiscover,
		skipBackfill:  cfg.SkipBackfill,
	}
}

func (d *JellyfinDetector) Name() string {
	return "jellyfin"
}

func (d *JellyfinDetector) Detect() ([]*models.LogSource, error) {
	d.logger.Trace("Detecting Jellyfin log sources...")

	dirs := candidateDirs(d.logger, "JELLYFIN_LOG_DIR", d.configuredDir,
		d.autoDiscover, d.provider.DefaultSearchPaths())

	for _, dir := range dirs {
		if !dirHasFormat(d.logger, dir, d.provider.FilePatterns(), d.provider) {
			continue
		}
		d.logger.Info("Jellyfin log source detected", d.logger.Args("dir", dir))
		// Patterns left empty so the provider's defaults keep applying.
		return []*models.LogSource{{
			Name:         "jellyfin",
			Provider:     d.provider.Name(),
			Enabled:      true,
			Paths:        dir,
			SkipBackfill: d.skipBackfill,
		}}, nil
	}

	if d.configuredDir != "" {
		d.logger.Warn("No Jellyfin logs found at configured directory",
			d.logger.Args("JELLYFIN_LOG_DIR", d.configuredDir))
	} else {
		d.logger.Debug("No Jellyfin installation found")
	}
	return nil, nil
}

// ServarrDetector probes one *arr application. The family shares the NLog
// format, so one provider backs Sonarr, Radarr, and Prowlarr; only the
// directories and file names differ.
type ServarrDetector struct {
	logger        *pterm.Logger
	app           string
	provider      parser.Provider
	configuredDir string
	autoDiscover  bool
	skipBackfill  bool
}

func NewServarrDetector(app, configuredDir string, provider parser.Provider, cfg config.SourcesConfig, logger *pterm.Logger) ServiceDetector {
	return &ServarrDetector{
		logger:        logger,
		app:           app,
		provider:      provider,
		configuredDir: configuredDir,
		autoDiscover:  cfg.AutoDiscover,
		skipBackfill:  cfg.SkipBackfill,
	}
}

func (d *ServarrDetector) Name() string {
	return d.app
}

func (d *ServarrDetector) Detect() ([]*models.LogSource, error) {
	d.logger.Trace("Detecting log sources...", d.logger.Args("app", d.app))

	envName := strings.ToUpper(d.app) + "_LOG_DIR"
	defaults := make([]string, 0, 2)
	for _, dir := range d.provider.DefaultSearchPaths() {
		if strings.Contains(strings.ToLower(dir), d.app) || strings.Contains(dir, "/config") {
			defaults = append(defaults, dir)
		}
	}

	// Sonarr names its files sonarr.txt, sonarr.0.txt, sonarr.debug.txt and
	// so on; same scheme for the others. Pinning the pattern to the app keeps
	// co-located installs (shared /config/logs) from tailing each other.
	pattern := d.app + "*.txt"

	for _, dir := range candidateDirs(d.logger, envName, d.configuredDir, d.autoDiscover, defaults) {
		if !dirHasFormat(d.logger, dir, []string{pattern}, d.provider) {
			continue
		}
		d.logger.Info("Log source detected", d.logger.Args("app", d.app, "dir", dir))
		return []*models.LogSource{{
			Name:         d.app,
			Provider:     d.provider.Name(),
			Enabled:      true,
			Paths:        dir,
			Patterns:     pattern,
			SkipBackfill: d.skipBackfill,
		}}, nil
	}

	if d.configuredDir != "" {
		d.logger.Warn("No logs found at configured directory",
			d.logger.Args(envName, d.configuredDir))
	} else {
		d.logger.Debug("Not installed", d.logger.Args("app", d.app))
	}
	return nil, nil
}

// candidateDirs applies the override-first policy: a valid configured
// directory disables auto-discovery, an invalid one falls back to it.
func candidateDirs(logger *pterm.Logger, envName, configured string, autoDiscover bool, defaults []string) []string {
	if configured != "" {
		if info, err := os.Stat(configured); err == nil && info.IsDir() {
			logger.Info("Using configured log directory (auto-discovery disabled)",
				logger.Args(envName, configured))
			return []string{configured}
		}
		logger.Warn("Configured log directory not accessible, falling back to auto-discovery",
			logger.Args(envName, configured))
	}
	if !autoDiscover {
		return nil
	}
	return defaults
}

// dirHasFormat reports whether dir holds at least one file matching the
// patterns whose first line the provider recognizes.
func dirHasFormat(logger *pterm.Logger, dir string, patterns []string, provider parser.Provider) bool {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		logger.Trace("Directory not accessible", logger.Args("dir", dir))
		return false
	}
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			continue
		}
		for _, match := range matches {
			if firstEntryMatches(match, provider) {
				logger.Trace("Format recognized", logger.Args("file", match))
				return true
			}
		}
	}
	return false
}

// firstEntryMatches sniffs the first non-blank line of the file.
func firstEntryMatches(path string, provider parser.Provider) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		return provider.ParseLine(line) != nil
	}
	return false
}
