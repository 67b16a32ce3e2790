package smartcare

import "errors"

// Domain errors for the SmartCare bridge package.
//
// Fetch failures fall into two classes that are handled identically by the
// poller (logged, tick aborted, snapshot kept):
//
//	if errors.Is(err, smartcare.ErrNetwork) || errors.Is(err, smartcare.ErrHTTPStatus) {
//	    // network class
//	}
//	if errors.Is(err, smartcare.ErrDecode) {
//	    // decode class
//	}
var (
	// ErrNetwork is returned when the endpoint cannot be reached, the request
	// times out, or the body cannot be read.
	ErrNetwork = errors.New("smartcare: network error")

	// ErrHTTPStatus is returned when the endpoint answers with a non-2xx status.
	ErrHTTPStatus = errors.New("smartcare: unexpected http status")

	// ErrDecode is returned when the body is not a JSON array of
	// {deviceId:int, state:string} objects.
	ErrDecode = errors.New("smartcare: decode error")

	// ErrUnknownChannel is returned when a refresh names a channel that has
	// no binding.
	ErrUnknownChannel = errors.New("smartcare: unknown channel")

	// ErrNotRunning is returned by operations that need a started poller.
	ErrNotRunning = errors.New("smartcare: poller not running")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("smartcare: poller already started")
)
