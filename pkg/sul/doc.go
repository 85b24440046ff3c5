/*
Package sul answers membership queries by driving a system under learning.

Oracle is the delegate the cache dispatches to: it resets the SUT, steps it through
each query and returns the suffix-aligned outputs. Along the way it can consult the
durable store first, let a bypass classifier refuse inputs on dead branches, check
the outputs against known-good protocol flows, and pace probes with a rate limiter.
An Oracle runs one probe at a time, so concurrent batches queue on its SUT.
Pool spreads batches over several independent SUT instances, checking each
oracle out for the duration of a call.
*/
package sul
