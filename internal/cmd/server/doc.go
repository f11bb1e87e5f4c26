// Package serverrun boots the sync backend: storage runtime, publish and
// subscribe services, the HTTP/WS surface, and the retention trimmer, tied
// together under one lifecycle.
package serverrun
