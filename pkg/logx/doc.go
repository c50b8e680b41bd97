// Package logx is gcpacer's structured logger, a thin layer over zerolog.
//
// Loggers stay bound to their Service, so a config reload that changes the
// level or sinks reaches every component without re-plumbing. Console
// output is human text or JSON lines (for journald); the optional file sink
// is always JSON. Hot paths log through Sampled.
package logx
