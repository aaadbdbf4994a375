// Package utils holds small parsing helpers shared by the HTTP and service
// layers.
package utils

import (
	"strconv"
	"strings"
)

// History page bounds.
const (
	DefaultPage     = 1
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// AtoiDefault parses s (surrounding spaces ignored) or returns def when s is
// empty or not an int.
func AtoiDefault(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ClampPage coerces page to >= 1 and pageSize into [1, MaxPageSize].
// Non-positive values fall back to the defaults.
func ClampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = DefaultPage
	}
	switch {
	case pageSize < 1:
		pageSize = DefaultPageSize
	case pageSize > MaxPageSize:
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// ParsePage reads raw page and page_size query values and clamps them.
func ParsePage(page, pageSize string) (int, int) {
	return ClampPage(AtoiDefault(page, DefaultPage), AtoiDefault(pageSize, DefaultPageSize))
}

// TotalPages is ceil(total / pageSize); 0 for an empty set.
func TotalPages(total int64, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}
