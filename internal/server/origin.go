package server

import (
	"net/http"
	"net/url"
	"slices"
	"strings"

	"go.uber.org/zap"
)

// originChecker builds the websocket upgrade origin policy from the
// configured allow list. "*" allows every origin; a missing Origin
// header is accepted so non-browser clients can connect.
func originChecker(origins []string, logger *zap.Logger) func(*http.Request) bool {
	normalized, allowAll := normalizeOrigins(origins, logger)
	return func(r *http.Request) bool {
		originHeader := r.Header.Get("Origin")
		if originHeader == "" || allowAll {
			return true
		}
		candidate, ok := normalizeOrigin(originHeader)
		if !ok {
			return false
		}
		return slices.Contains(normalized, candidate)
	}
}

func normalizeOrigins(origins []string, logger *zap.Logger) ([]string, bool) {
	normalized := make([]string, 0, len(origins))
	allowAll := len(origins) == 0

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAll = true
			continue
		}
		normalizedOrigin, ok := normalizeOrigin(trimmed)
		if !ok {
			if logger != nil {
				logger.Warn("ignoring invalid configured origin", zap.String("origin", origin))
			}
			continue
		}
		normalized = append(normalized, normalizedOrigin)
	}

	return normalized, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
