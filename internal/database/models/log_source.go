package models

import (
	"strings"
	"time"
)

// LogSource is one configured media-server log source (a Jellyfin install,
// a Sonarr install, ...). Paths and Patterns override the provider defaults
// when set; they hold one entry per line.
type LogSource struct {
	Name           string `gorm:"primaryKey"`
	Provider       string `gorm:"not null;index"`
	Enabled        bool   `gorm:"default:true"`
	Paths          string `gorm:"type:text"`
	Patterns       string `gorm:"type:text"`
	MaxTailers     int    `gorm:"default:0"` // 0 = global default
	MaxFileAgeDays int    `gorm:"default:0"` // 0 = global default
	StartDelayMs   int    `gorm:"default:0"` // 0 = global default
	SkipBackfill   bool   `gorm:"default:false"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (LogSource) TableName() string {
	return "log_sources"
}

// PathList returns the configured root paths, one per line, empty lines
// dropped. An empty result means "use the provider defaults".
func (s *LogSource) PathList() []string {
	return splitLines(s.Paths)
}

// PatternList returns the configured glob patterns, same convention as
// PathList.
func (s *LogSource) PatternList() []string {
	return splitLines(s.Patterns)
}

func splitLines(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(v, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
