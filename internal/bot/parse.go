package bot

import (
	"fmt"
	"strconv"
	"strings"

	"site_watcher/internal/model"
)

const (
	defaultListCount = 10
	maxListCount     = 50
)

// ParseCount extracts an optional item count, defaulting to 10 and capped at 50.
func ParseCount(args string) (int, error) {
	s := strings.TrimSpace(args)
	if s == "" || s == "0" {
		return defaultListCount, nil
	}
	n, err := strconv.Atoi(strings.Fields(s)[0])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid count %q", s)
	}
	return min(n, maxListCount), nil
}

// ParseInterval extracts a refresh interval in seconds.
func ParseInterval(args string) (int, error) {
	parts := strings.Fields(args)
	if len(parts) != 1 {
		return 0, fmt.Errorf("usage: /interval <seconds>")
	}
	secs, err := strconv.Atoi(parts[0])
	if err != nil || secs < model.MinRefreshInterval || secs > model.MaxRefreshInterval {
		return 0, fmt.Errorf("interval must be between %d and %d seconds", model.MinRefreshInterval, model.MaxRefreshInterval)
	}
	return secs, nil
}

// ParseToggle parses an on/off argument.
func ParseToggle(args string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(args)) {
	case "on", "enable", "true", "1":
		return true, nil
	case "off", "disable", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("usage: /email on|off")
	}
}
