// Package logx configures lotebot's structured logging.
//
// Logger is a small value type on top of zerolog:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional Telegram sink (min-level + rate limiting)
//
// Loggers derived from a Service follow Service.Apply, so a config hot-reload
// re-targets every component logger at once.
package logx
