package factory

import (
	"fmt"

	"github.com/kiranshivaraju/animgen/internal/config"
	"github.com/kiranshivaraju/animgen/internal/generator/procedural"
	"github.com/kiranshivaraju/animgen/internal/generator/remote"
	"github.com/kiranshivaraju/animgen/pkg/models"
)

// NewGenerator constructs the configured generator.
// Called once at server startup.
func NewGenerator(cfg config.GeneratorConfig) (models.Generator, error) {
	switch cfg.Provider {
	case "procedural":
		return procedural.New(cfg.StepDelay), nil
	case "remote":
		return remote.NewClient(cfg.Remote), nil
	default:
		return nil, fmt.Errorf("unknown generator provider %q: must be one of procedural, remote", cfg.Provider)
	}
}
