// Package subscribesvc implements resumable delivery on top of the internal
// EventLog. A subscriber negotiates a protocol version, presents a resume
// cursor, and receives every retained event after it in order, then live
// appends. Cursors that fall outside the retention window or the replay
// budget are refused with a verdict telling the client to rebootstrap.
package subscribesvc
