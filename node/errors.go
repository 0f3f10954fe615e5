package node

import (
	"errors"
	"fmt"
)

var (
	ErrNodeRunning = errors.New("node already running")
	ErrNoService   = errors.New("no service registered")
)

type DuplicateServiceError struct {
	Name string
}

func (e *DuplicateServiceError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("duplicate service: %s", e.Name)
	}
	return "a service is already registered"
}
