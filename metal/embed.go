//go:build metal && darwin

// Package metal embeds the pre-compiled Metal shader library used by the
// metal backend. Build it with `make -C metal` before building with the
// metal tag.
package metal

import _ "embed"

//go:embed lib/tessera.metallib
var metallib []byte

// Lib returns the embedded metallib bytes.
func Lib() []byte {
	return metallib
}
