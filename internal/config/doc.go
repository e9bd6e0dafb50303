// Package config loads and persists the simulator configuration.
//
// The configuration is a YAML file selecting the host transport (serial,
// tcp or loopback), the flash staging region, timeout overrides and the
// emergency recovery policy. It is stored in platform-appropriate
// locations:
//   - Linux: $XDG_CONFIG_HOME/bootcore/config.yaml or $HOME/.config/bootcore/config.yaml
//   - macOS: $HOME/.config/bootcore/config.yaml
//   - Windows: %LOCALAPPDATA%\bootcore\config.yaml
//
// A missing file is not an error; Load returns the defaults. Saves write to
// a temporary file and rename into place so a crash cannot leave a
// half-written configuration behind.
package config
