// Package logx configures jiranotifier's structured logging.
//
// The agent uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Sinks and levels swappable at runtime (config hot reload)
package logx
