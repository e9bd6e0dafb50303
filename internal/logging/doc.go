// Package logging provides structured logging for the bootloader core and
// the simulator CLI.
//
// Logging is silent by default so the CLI produces no unexpected output.
// Set the BOOTCORE_LOG_LEVEL environment variable (debug, info, warn, error)
// or pass an explicit level to Initialize to enable it.
//
// Protocol-level helpers (LogFrame, LogRawBytes) include hex and ASCII dumps
// at debug level for wire analysis.
package logging
