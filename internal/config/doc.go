// Package config loads the displaysync server configuration.
//
// Values come from three layers, later ones winning: built-in defaults,
// an optional file, and DISPLAYSYNC_* environment variables. Command-line
// flags are applied by the caller after ApplyEnv.
//
// # Configuration File
//
// YAML (.yaml, .yml) and JSON with comments (.json, .jsonc) are accepted:
//
//	httpAddr: ":3000"
//	wsAddr: ":3001"
//	publicDir: public
//	displayCount: 3
//	store:
//	  driver: sqlite
//	  dsn: data/displaysync.db
//	media:
//	  backend: disk
//	  dir: data/canvas
//	  retention: 720h
//	log:
//	  level: info
//	  format: text
//	import:
//	  dir: drop
//
// # Usage
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    return err
//	}
//	if err := cfg.ApplyEnv(); err != nil {
//	    return err
//	}
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config
