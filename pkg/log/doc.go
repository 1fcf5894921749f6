// Package log is the structured logging layer shared by tasq components.
//
// Loggers are constructed once near main and passed down explicitly; there is
// no global logger. Components tag themselves with With(F("component", ...)).
// Formatters (text for humans, JSON for collectors) and outputs are pluggable.
package log
