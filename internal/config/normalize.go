package config

import (
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/qqrelay/pkg/protocol"
)

// NormalizeIntents upper-cases and de-duplicates intent names, dropping unknown ones.
// An empty result falls back to protocol.DefaultIntents.
func NormalizeIntents(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.ToUpper(strings.TrimSpace(n))
		if n == "" || seen[n] {
			continue
		}
		if !protocol.KnownIntent(n) {
			slog.Warn("config: unknown gateway intent ignored", "intent", n)
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	if len(out) == 0 {
		return append([]string(nil), protocol.DefaultIntents...)
	}
	return out
}

// ParseLevel maps a config level name to slog.Level. Unknown names map to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
