// Package eventmux implements stcp.EventMux with a channel-select
// multiplexer: wait on N wakeable sources expressed as select over
// channels plus a deadline timer.
package eventmux

import (
	"context"
	"time"

	"github.com/ardnew/stcp"
)

// Channel is a channel-backed stcp.EventMux. Callers signal NETWORK_DATA,
// APP_DATA and APP_CLOSE_REQUESTED by sending (non-blockingly) on the
// corresponding channel; Wait folds those with a timer for the deadline
// argument into a single Events bitmask.
type Channel struct {
	NetworkData       <-chan struct{}
	AppData           <-chan struct{}
	AppCloseRequested <-chan struct{}
}

// NewChannel constructs a Channel multiplexer from the three wakeup
// sources.
func NewChannel(networkData, appData, appCloseRequested <-chan struct{}) *Channel {
	return &Channel{NetworkData: networkData, AppData: appData, AppCloseRequested: appCloseRequested}
}

// Wait blocks until one of its channels fires, ctx is done, or deadline
// passes (a zero deadline means wait indefinitely for a non-timeout
// event), returning the bitmask of everything observed in this wakeup.
func (c *Channel) Wait(ctx context.Context, deadline time.Time) (stcp.Events, error) {
	var timerC <-chan time.Time
	if !deadline.IsZero() {
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()
		timerC = t.C
	}

	var ev stcp.Events
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-c.NetworkData:
		ev |= stcp.EventNetworkData
	case <-c.AppData:
		ev |= stcp.EventAppData
	case <-c.AppCloseRequested:
		ev |= stcp.EventAppCloseRequested
	case <-timerC:
		ev |= stcp.EventTimeout
	}

	// Drain whatever else is immediately ready so a single wakeup
	// reports every signalled source at once.
	for {
		select {
		case <-c.NetworkData:
			ev |= stcp.EventNetworkData
			continue
		case <-c.AppData:
			ev |= stcp.EventAppData
			continue
		case <-c.AppCloseRequested:
			ev |= stcp.EventAppCloseRequested
			continue
		default:
		}
		break
	}
	return ev, nil
}
