package updog

import (
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/config"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/logging"
)

// Platform is the updog binding: the engine and the storage table it is
// handed.
type Platform struct {
	Engine  *Engine
	Storage *Storage
}

func New(cfg *config.Config) *Platform {
	return &Platform{
		Engine:  NewEngine(logging.New("updog"), cfg.Engine.Bin, cfg.Engine.RuntimeDir),
		Storage: NewStorage(logging.New("storage"), cfg.Storage.StagingDir, cfg.Storage.OSRelease, cfg.Engine.Signpost),
	}
}
