package connectivity

import "errors"

// ErrCircuitOpen is returned when a breaker rejects a call without running it.
var ErrCircuitOpen = errors.New("connectivity: circuit open")
