package inject

import (
	"github.com/rs/zerolog"

	"dqx0.com/go/inject/internal/obs"
)

// Meter receives counters and histograms about delivered responses.
type Meter = obs.Meter

// Label is a key/value pair attached to a measurement.
type Label = obs.Label

// Options configures one injection.
type Options struct {
	// Stream delivers the Result as soon as the head is written, with the
	// body exposed through Result.Stream instead of Payload/RawPayload.
	Stream bool
	// Raw skips body decoding: RawPayload holds the body block exactly as
	// framed on the wire and Payload stays empty.
	Raw bool
	// Simulate injects request-side network faults.
	Simulate Simulate
	// Logger overrides the logger found on the context.
	Logger *zerolog.Logger
	// Meter defaults to a no-op meter.
	Meter Meter
}

// Simulate lists network faults to apply to the injected request. Response
// writes keep succeeding under every fault.
type Simulate struct {
	// Split delivers the request body in two reads.
	Split bool
	// Error fails body reads with ErrSimulated once the payload is consumed.
	Error bool
	// Close cancels the request context once the body is drained, as if
	// the peer hung up.
	Close bool
}

func (o Options) meter() Meter {
	if o.Meter == nil {
		return obs.NopMeter{}
	}
	return o.Meter
}
