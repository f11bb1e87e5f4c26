// Package log provides structured logging for syncd components.
//
// Loggers are constructed explicitly and passed by dependency injection;
// there is no package-level default. Fields are attached with the typed
// Field constructors (Str, Uint64, Err, ...) and a component tag is
// carried on every derived logger via With(Component("...")).
package log
