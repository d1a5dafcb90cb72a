// Package services holds the application services the run modes host.
package services

import (
	"fmt"

	"github.com/sirosfoundation/go-appserver/internal/engine"
)

// Register adds every application service to srv in dispatch order.
func Register(srv *engine.Server) error {
	if _, err := engine.AddService[Presence](srv); err != nil {
		return fmt.Errorf("failed to add presence service: %w", err)
	}
	if _, err := engine.AddService[Echo](srv); err != nil {
		return fmt.Errorf("failed to add echo service: %w", err)
	}
	return nil
}
