// Package config loads the engine's own TOML configuration: page size,
// undo segment directories and checksum algorithm selection. This is
// deliberately separate from (and much smaller than) the SQL-facing
// configuration the original server shipped, which this engine does not
// carry forward.
package config

import (
	"github.com/pelletier/go-toml"

	"github.com/oltpcore/undoengine/logger"
)

// EngineConfig is the root configuration document.
type EngineConfig struct {
	PageSize      int          `toml:"page_size"`
	UndoBaseDir   string       `toml:"undo_base_dir"`
	PgUndoDir     string       `toml:"pg_undo_dir"`
	ArchiveDir    string       `toml:"archive_dir"`
	ChecksumAlgo  string       `toml:"checksum_algo"` // "xxhash64" is the only supported value today
	Log           LogSettings  `toml:"log"`
}

// LogSettings configures the logger package.
type LogSettings struct {
	Level        string `toml:"level"`
	InfoLogPath  string `toml:"info_log_path"`
	ErrorLogPath string `toml:"error_log_path"`
}

// Default returns the configuration used when no file is supplied.
func Default() *EngineConfig {
	return &EngineConfig{
		PageSize:     8192,
		UndoBaseDir:  "base/undo",
		PgUndoDir:    "pg_undo",
		ArchiveDir:   "pg_undo/archive",
		ChecksumAlgo: "xxhash64",
		Log: LogSettings{
			Level: "info",
		},
	}
}

// Load reads and parses an EngineConfig from a TOML file at path,
// filling any field the file omits from Default.
func Load(path string) (*EngineConfig, error) {
	cfg := Default()

	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := tree.Unmarshal(cfg); err != nil {
		return nil, err
	}

	logger.Infof("loaded engine config from %s: page_size=%d checksum=%s", path, cfg.PageSize, cfg.ChecksumAlgo)
	return cfg, nil
}
