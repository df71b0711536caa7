// Package config loads and validates the chunkmap pipeline configuration.
//
// Configuration starts from DefaultConfig, is overlaid with an optional TOML
// file, and finally with CHUNKMAP_* environment variables:
//
//	cfg, err := config.Load("chunkmap.toml")
//	if err != nil {
//		return err
//	}
//	if err := cfg.Validate(); err != nil {
//		return err
//	}
//
// Parent tiers are keyed by their version string, "<size>_<overlap>", and
// exactly one of them is active at a time through ParentVersion.
package config
