package domain

import (
	"time"

	"gridwarden/pkg/gridlink"
)

// PowerCommand is the authoritative setpoint for one (component, kind).
// It reverts to zero when ExpiresAt passes without a refresh.
type PowerCommand struct {
	Kind      gridlink.PowerKind
	Watts     float64
	ExpiresAt time.Time
}
