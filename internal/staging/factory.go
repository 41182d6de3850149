package staging

import (
	"fmt"
	"os"

	"github.com/spf13/afero"

	"drive-go/internal/config"
	"drive-go/internal/drive"
)

// DefaultMaxSize is the default maximum staging area size (2GiB).
const DefaultMaxSize int64 = 2 << 30

// NewAreaFromConfig creates a staging area based on the config type.
func NewAreaFromConfig(cfg config.StagingConfig, clock drive.Clock, idgen drive.IDGenerator, logger drive.Logger) (*Area, error) {
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	switch cfg.Type {
	case "memory":
		return NewArea(afero.NewMemMapFs(), maxSize, clock, idgen, logger), nil
	case "filesystem":
		if cfg.StagingDir == "" {
			return nil, fmt.Errorf("filesystem staging area requires staging_dir to be set")
		}
		if err := os.MkdirAll(cfg.StagingDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create staging directory: %w", err)
		}
		return NewArea(afero.NewBasePathFs(afero.NewOsFs(), cfg.StagingDir), maxSize, clock, idgen, logger), nil
	default:
		return nil, fmt.Errorf("unknown staging area type: %s", cfg.Type)
	}
}
