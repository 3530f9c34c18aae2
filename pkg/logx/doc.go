// Package logx configures releasebot's structured logging.
//
// A small value type (logx.Logger) wraps zerolog so components can carry
// fixed fields around without holding a pointer to the sink setup:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional Telegram sink (min-level + rate limiting) for operator alerts
package logx
