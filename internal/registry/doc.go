// Package registry keeps the set of known devices and persists it across
// restarts.
//
// The persisted form is devices.json in the data directory: a JSON array of
// records, each {"address", "status", "device"}. Unknown fields of the device
// descriptor survive a save/load cycle unchanged.
//
// On start, Open reads the file and reconciles every restored address with a
// fresh probe before writing the result back:
//
//	reg := registry.New(path, registry.FileStorage{}, coord)
//	if err := reg.Open(ctx); err != nil {
//	    // the registry is empty and devices.json was rewritten as []
//	}
//
// # Thread Safety
//
// All methods are safe for concurrent use. Saves are serialized so the file
// always holds one complete snapshot.
package registry
