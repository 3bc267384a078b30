// Package logx configures schedbot's structured logging.
//
// Components log through a small value type (logx.Logger) on top of zerolog:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional chat sink that mirrors WARN+ lines into an operator channel
//     (min-level + rate limiting)
package logx
