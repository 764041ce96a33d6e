package escrow

import (
	"fmt"
	"time"
)

// Timelocks are the absolute expiries of both legs of one swap
type Timelocks struct {
	Destination int64 // unix seconds
	Source      int64 // unix seconds
}

// ComputeTimelocks derives both expiries from the later of the two chain
// clocks so that neither chain sees a shorter lock than requested. The
// source leg always outlives the destination leg by margin.
func ComputeTimelocks(sourceNow, destNow time.Time, duration, margin time.Duration) (Timelocks, error) {
	if duration <= 0 {
		return Timelocks{}, fmt.Errorf("timelock duration must be positive")
	}
	if margin <= 0 {
		return Timelocks{}, fmt.Errorf("safety margin must be positive")
	}

	base := sourceNow
	if destNow.After(base) {
		base = destNow
	}

	dest := base.Add(duration).Unix()
	return Timelocks{
		Destination: dest,
		Source:      dest + int64(margin/time.Second),
	}, nil
}

// Margin returns how much longer the source leg is locked than the destination leg
func (t Timelocks) Margin() time.Duration {
	return time.Duration(t.Source-t.Destination) * time.Second
}
