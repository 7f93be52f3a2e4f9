// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package config

import (
	"regexp"
	"strconv"
	"strings"

	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
)

var memoryLimitPattern = regexp.MustCompile(`^([1-9][0-9]*)(Ki|Mi|Gi)?$`)

// ParseMemoryLimit parses sizes like "256Mi", "1Gi", or raw bytes "4096".
// An empty string means no limit and returns 0.
func ParseMemoryLimit(limit string) (int64, error) {
	limit = strings.TrimSpace(limit)
	if limit == "" {
		return 0, nil
	}

	match := memoryLimitPattern.FindStringSubmatch(limit)
	if len(match) != 3 {
		return 0, generr.Errorf(generr.CodeConfigValidateInvalidValue,
			"memory limit must match <positive-int>[Ki|Mi|Gi], got %q", limit)
	}

	base, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, generr.Wrapf(err, generr.CodeConfigValidateInvalidValue, "parsing memory limit %q", limit)
	}

	factor := int64(1)
	switch match[2] {
	case "Ki":
		factor = 1 << 10
	case "Mi":
		factor = 1 << 20
	case "Gi":
		factor = 1 << 30
	}

	value := base * factor
	if value/factor != base {
		return 0, generr.Errorf(generr.CodeConfigValidateInvalidValue, "memory limit %q overflows int64", limit)
	}
	return value, nil
}
