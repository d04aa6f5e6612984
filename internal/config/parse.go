package config

import (
	"fmt"
	"strings"
)

// parsePort converts a numeric string into a TCP port (1-65535).
func parsePort(s string) (int, error) {
	var port int
	if _, err := fmt.Sscanf(s, "%d", &port); err != nil {
		return 0, err
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port number: %d", port)
	}
	return port, nil
}

func parseInt(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, err
	}
	return n, nil
}

// parseBool treats anything but "false"/"0" (case-insensitive) as true.
func parseBool(s string) bool {
	lower := strings.ToLower(strings.TrimSpace(s))
	return !(lower == "false" || lower == "0" || lower == "")
}
