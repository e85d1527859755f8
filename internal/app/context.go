package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"shopline/internal/catalog"
	"shopline/internal/config"
	"shopline/internal/db"
	"shopline/internal/engine"
	"shopline/internal/migrate"
	"shopline/internal/subcontract"
)

// Workspace is an opened plant workspace: database, config, logger and a wired engine.
type Workspace struct {
	Dir    string
	DB     *sql.DB
	Config *config.Config
	Logger *zap.Logger
	Engine engine.Engine
}

// Init writes a default plant.yml into dir. An existing file is kept unless force is set.
func Init(dir, plantID string, force bool) (string, error) {
	if plantID == "" {
		return "", fmt.Errorf("plant id required")
	}
	if _, err := db.EnsureWorkspace(dir); err != nil {
		return "", err
	}
	path := config.Path(dir)
	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("%s already exists; use --force to overwrite", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	if err := os.WriteFile(path, []byte(config.GenerateDefault(plantID)), 0o644); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return path, nil
}

// LoadEnv loads dir/.env into the process environment. A missing file is not an error.
func LoadEnv(dir string) error {
	if dir == "" {
		dir = "."
	}
	err := godotenv.Load(filepath.Join(dir, ".env"))
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Open loads plant.yml (or defaults), migrates the database and wires the engine
// against the SQL catalog and the configured subcontract workflow.
// A nil logger is built from the config's log section.
func Open(ctx context.Context, dir string, logger *zap.Logger) (*Workspace, error) {
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		if logger, err = NewLogger(cfg.Log.Level, cfg.Log.Format); err != nil {
			return nil, err
		}
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate %s: %w", db.Path(dir), err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	e := engine.New(conn, cfg, catalog.SQLCatalog{DB: conn})
	e.Logger = logger
	e.Subcontract = subcontract.FromConfig(cfg, e.Repo, logger)
	logger.Debug("workspace opened",
		zap.String("dir", dir),
		zap.String("plant", cfg.Plant.ID),
		zap.String("subcontract", e.Subcontract.Channel()))
	return &Workspace{Dir: dir, DB: conn, Config: cfg, Logger: logger, Engine: e}, nil
}

func (w *Workspace) Close() error {
	_ = w.Logger.Sync()
	return w.DB.Close()
}

// NewLogger builds a production (json) or development (console) zap logger at level.
func NewLogger(level, format string) (*zap.Logger, error) {
	var zapCfg zap.Config
	if format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	switch level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "", "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	zapCfg.OutputPaths = []string{"stderr"}
	return zapCfg.Build()
}
