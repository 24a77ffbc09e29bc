// Package logx configures jtechpush's structured logging.
//
// Components take a logx.Logger (a thin wrapper over zerolog) so that:
//   - Console output stays readable (short timestamp + short caller)
//   - File output stays JSON-structured
//   - Level and outputs can be swapped at runtime on config reload
package logx
