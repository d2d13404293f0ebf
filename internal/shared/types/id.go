package types

import (
	"fmt"
	"strconv"
)

// ID is a store-assigned numeric identifier
type ID int64

// ParseID parses a decimal string into an ID
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ID: %w", err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("invalid ID: must be positive")
	}
	return ID(v), nil
}

// String returns the decimal representation
func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// IsZero checks if the ID is unset
func (id ID) IsZero() bool {
	return id == 0
}
