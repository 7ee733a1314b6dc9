// Package dedupe suppresses duplicate inbound conversation frames.
//
// A client that loses its socket mid-exchange cannot tell whether the
// server processed its last frame, so reconnect logic resends it. Under
// sequenced processing a resend is a brand new message, which doubles
// the stored conversation and triggers a second analysis run. The cache
// remembers recently seen frame keys for a configurable window so the
// socket layer can drop the replay instead.
package dedupe
