package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// NewRunID returns a time ordered identifier for an injection run, so journal
// rows sort by creation without an extra column.
func NewRunID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}
