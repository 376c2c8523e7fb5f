package utils

import (
	"os"
	"strings"
)

func ParseWithFallback(envName string, fallback string) string {
	if v, ok := os.LookupEnv(envName); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}

	return fallback
}
