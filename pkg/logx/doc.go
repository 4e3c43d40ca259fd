// Package logx is schoolbell's logging layer: a small value-type Logger over
// zerolog whose outputs and level can be swapped at runtime when the config
// file changes. Console output is human-readable unless format is "json";
// file output is always JSON lines.
package logx
