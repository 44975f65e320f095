package agentapi

import (
	"fmt"
	"strconv"
	"strings"
)

func parseIDParam(value string) (int64, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("invalid id")
	}
	return parsed, nil
}

func parseOptionalIDParam(value string) (*int64, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	parsed, err := parseIDParam(value)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
