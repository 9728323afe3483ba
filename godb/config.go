package godb

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the engine's external configuration surface: everything an
// operator can tune without touching code. Grounded on the
// viper-backed config layers other repos in the corpus use ahead of
// wiring storage (cf. tuannm99-novasql) -- env vars and a config file both
// populate the same struct, env taking precedence.
type Config struct {
	// DataDir holds the catalog file and every table's backing .dat file.
	DataDir string
	// LogPath is the write-ahead log's backing file.
	LogPath string
	// PageSize is the fixed page size every HeapFile in this process uses.
	// Read once here and never mutated afterward (spec.md's page-size
	// design note).
	PageSize int
	// BufferPoolSize caps how many pages the buffer pool holds at once.
	BufferPoolSize int
	// LockWaitMin/LockWaitMax are loaded from configuration but not applied:
	// page locks always use the fixed lockWaitMin/lockWaitRange constants in
	// page_lock.go, so changing these does not change lock timeouts.
	LockWaitMin time.Duration
	LockWaitMax time.Duration
}

// DefaultConfig returns the engine's built-in defaults before any file or
// environment override is applied.
func DefaultConfig() Config {
	return Config{
		DataDir:        "./data",
		LogPath:        "./data/wal.log",
		PageSize:       4096,
		BufferPoolSize: 64,
		LockWaitMin:    lockWaitMin,
		LockWaitMax:    lockWaitMin + lockWaitRange,
	}
}

// LoadConfig reads configuration from configFile (if non-empty and
// present), then from GODB_-prefixed environment variables, layered over
// DefaultConfig. A missing configFile is not an error.
func LoadConfig(configFile string) (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix("godb")
	v.AutomaticEnv()
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("log_path", cfg.LogPath)
	v.SetDefault("page_size", cfg.PageSize)
	v.SetDefault("buffer_pool_size", cfg.BufferPoolSize)
	v.SetDefault("lock_wait_min_ms", cfg.LockWaitMin.Milliseconds())
	v.SetDefault("lock_wait_max_ms", cfg.LockWaitMax.Milliseconds())

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !os.IsNotExist(err) {
				return cfg, fmt.Errorf("reading config file %s: %w", configFile, err)
			}
		}
	}

	cfg.DataDir = v.GetString("data_dir")
	cfg.LogPath = v.GetString("log_path")
	cfg.PageSize = v.GetInt("page_size")
	cfg.BufferPoolSize = v.GetInt("buffer_pool_size")
	cfg.LockWaitMin = time.Duration(v.GetInt64("lock_wait_min_ms")) * time.Millisecond
	cfg.LockWaitMax = time.Duration(v.GetInt64("lock_wait_max_ms")) * time.Millisecond

	if cfg.PageSize <= 0 {
		return cfg, GoDBError{InvalidRequestError, "page_size must be positive"}
	}
	if cfg.BufferPoolSize <= 0 {
		return cfg, GoDBError{InvalidRequestError, "buffer_pool_size must be positive"}
	}
	return cfg, nil
}

// Engine bundles the components a running database needs: the buffer
// pool, the catalog it serves tables through, and the write-ahead log
// backing it. Open is the one constructor that wires all three together
// and runs crash recovery before returning, matching spec.md's mandate
// that Recover run once at startup even against an empty log.
type Engine struct {
	Config  Config
	Pool    *BufferPool
	Catalog *Catalog
	Log     *LogFile
}

// Open builds an Engine from cfg: sets the process-wide PageSize, creates
// DataDir if needed, opens (or creates) the catalog and the write-ahead
// log, and runs recovery.
func Open(cfg Config) (*Engine, error) {
	PageSize = cfg.PageSize

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, GoDBError{StorageFaultError, err.Error()}
	}

	pool, err := NewBufferPool(cfg.BufferPoolSize)
	if err != nil {
		return nil, err
	}

	cat, err := NewCatalog(cfg.DataDir+"/catalog.txt", pool, cfg.DataDir)
	if err != nil {
		return nil, err
	}

	lf, err := NewLogFile(cfg.LogPath, pool, cat)
	if err != nil {
		return nil, err
	}
	pool.AttachLog(lf, cat)

	if err := pool.Recover(lf); err != nil {
		return nil, err
	}

	return &Engine{Config: cfg, Pool: pool, Catalog: cat, Log: lf}, nil
}
