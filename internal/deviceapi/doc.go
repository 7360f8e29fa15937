// Package deviceapi is the HTTP client for the cogmote device agent.
//
// Every lab device runs an agent on port 9012 that serves a small JSON API:
//
//	GET /api/device                 device descriptor (hostname, os, cpu, ...)
//	GET /api/exps                   registered experiments
//	GET /api/broadcast/data         advertised telemetry channel names
//	GET /api/broadcast/data/{name}  text/event-stream of one channel
//
// The Client covers the three JSON endpoints. Streams are opened by package
// channel, which uses Client.StreamURL to build the endpoint.
//
// # Errors
//
// Failed requests return a *DeviceError. Its Type separates timeouts, refused
// connections, DNS failures, HTTP status errors and unparseable bodies, and
// ShortMessage turns it into a line suitable for CLI output:
//
//	details, err := client.GetDevice(ctx, "192.168.1.20")
//	if err != nil {
//	    fmt.Println(deviceapi.ShortMessage(err))
//	}
//
// GetDevice never retries, so a probe of a dead address costs one timeout.
// Listing requests retry retryable failures with exponential backoff.
package deviceapi
