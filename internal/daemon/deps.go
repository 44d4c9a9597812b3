// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"net/http"

	"github.com/rs/zerolog"
)

// Deps contains the dependencies the Manager needs injected. Keeping them
// explicit makes the manager testable with plain handlers.
type Deps struct {
	// Logger is the structured logger for the daemon.
	Logger zerolog.Logger

	// APIHandler serves the management API, the feeds and the media files.
	APIHandler http.Handler
}

// Validate checks that the required dependencies are present.
func (d *Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.APIHandler == nil {
		return ErrMissingAPIHandler
	}
	return nil
}
