// Package relay serves the device registry and live channels to local
// clients such as a browser dashboard.
//
// # Routes
//
//	GET  /api/devices                                      registry records
//	GET  /api/devices/{address}                            one record
//	POST /api/devices/{address}                            probe and register
//	GET  /api/devices/{address}/channels                   channel names (fetched when none known)
//	POST /api/devices/{address}/channels/{name}/connect    open the stream
//	POST /api/devices/{address}/channels/{name}/disconnect close the stream
//	GET  /api/devices/{address}/channels/{name}/events     buffered events
//	GET  /api/channels                                     every channel with its state
//	GET  /ws/{address}/{name}                              websocket of new events
//	GET  /metrics                                          Prometheus metrics
//
// Connect failures map to 409 (already connecting), 504 (timeout) and 502
// (transport error).
//
// # Websocket Stream
//
// Each event is sent as one JSON text message:
//
//	{"type":"event","address":"10.0.0.7","channel":"trials",
//	 "received_at":"2025-01-02T15:04:05Z","data":{...}}
//
// A client that falls more than 256 events behind loses the excess and is
// told so with a {"type":"dropped","dropped":N} message. The relay only
// subscribes; opening the device stream is done through the connect route.
//
// # Usage Example
//
//	srv := relay.New(&relay.Config{Listen: "127.0.0.1:9013"}, reg, channels,
//	    relay.WithAdder(coord),
//	    relay.WithMetrics(m),
//	)
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
package relay
