// Package streamid translates the legacy topic addressing scheme into
// canonical stream ids and migrates legacy cursors. It is pure: no state,
// no side effects. Everything inside the core only ever sees canonical
// stream ids; this package is the single boundary where legacy topic
// strings are parsed.
package streamid
