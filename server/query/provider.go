package query

import (
	"runtime/debug"
	"sync/atomic"
)

// ProviderFunc produces Data for the query responder. The host and port values
// represent the address that the query listener is bound to and should be
// reflected in the returned Data structure.
type ProviderFunc func(host string, port int) Data

var providerPointer atomic.Pointer[ProviderFunc]

// RegisterProvider registers the ProviderFunc that supplies query responses.
// Passing nil unregisters the current provider, after which the latest
// cached snapshot or default values are served.
func RegisterProvider(fn ProviderFunc) {
	if fn == nil {
		providerPointer.Store(nil)
		return
	}
	providerPointer.Store(&fn)
}

func loadProvider() ProviderFunc {
	ptr := providerPointer.Load()
	if ptr == nil {
		return nil
	}
	return *ptr
}

// engineLabel is the engine identifier shown to query clients.
var engineLabel = buildEngineLabel()

func buildEngineLabel() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return "chunkstream"
	}
	version := info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	return "chunkstream (" + version + ")"
}
