// Package checkpoint persists and restores tuner compositions. Each named
// tuner set owns a subdirectory (config + weights); extra-state parameters
// and the composition descriptor live at the directory root, so every set
// remains independently loadable.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/graft/internal/logger"
	"github.com/samcharles93/graft/internal/safetensors"
	"github.com/samcharles93/graft/internal/tuner"
)

const (
	// FormatVersion guards descriptor compatibility.
	FormatVersion = 1

	descriptorFile = "config.json"
	weightsFile    = "weights.safetensors"

	// Foreign adapter-library naming, used for peft sets so their
	// subdirectory loads outside this system.
	peftConfigFile  = "adapter_config.json"
	peftWeightsFile = "adapter_model.safetensors"
	peftKeyPrefix   = "base_model.model."
)

// Descriptor is the root config file describing a saved composition.
type Descriptor struct {
	FormatVersion int       `json:"format_version"`
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	Sets          []string  `json:"tuner_sets"`
	ExtraKeys     []string  `json:"extra_state_keys,omitempty"`
}

// setConfig is the per-set config file: the attach config plus the
// insertion points it resolved to, re-verified at load time.
type setConfig struct {
	Config  tuner.Config `json:"config"`
	Targets []string     `json:"resolved_targets"`
}

// peftConfig mirrors the foreign adapter library's config schema. The
// resolved_targets field is ours; foreign loaders ignore it.
type peftConfig struct {
	PeftType      string   `json:"peft_type"`
	R             int      `json:"r"`
	LoraAlpha     float32  `json:"lora_alpha"`
	TargetModules []string `json:"target_modules"`
	Targets       []string `json:"resolved_targets,omitempty"`
	Seed          int64    `json:"seed,omitempty"`
}

// Save writes every attached tuner set into its own subdirectory of dir,
// plus the root descriptor and extra-state weights. Per-set writes run
// concurrently.
func Save(m *tuner.Model, dir string, log logger.Logger) error {
	if log == nil {
		log = logger.Default()
	}
	names := m.Sets()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	var g errgroup.Group
	for _, name := range names {
		g.Go(func() error {
			return saveSet(m, dir, name)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	desc := Descriptor{
		FormatVersion: FormatVersion,
		ID:            uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		Sets:          names,
		ExtraKeys:     m.ExtraStateKeys(),
	}
	if err := writeJSON(filepath.Join(dir, descriptorFile), desc); err != nil {
		return err
	}
	if extra := m.ExtraParams(); len(extra) > 0 {
		tensors := make([]safetensors.Tensor, 0, len(extra))
		for _, p := range extra {
			tensors = append(tensors, safetensors.Tensor{
				Name:  p.Name,
				Shape: []int{p.Value.R, p.Value.C},
				Data:  p.Value.Data,
			})
		}
		if err := safetensors.Write(filepath.Join(dir, weightsFile), tensors); err != nil {
			return err
		}
	}
	log.Info("saved checkpoint", "dir", dir, "sets", len(names), "id", desc.ID)
	return nil
}

func saveSet(m *tuner.Model, dir, name string) error {
	cfg, ok := m.SetConfig(name)
	if !ok {
		return &tuner.Error{Tuner: name, Err: fmt.Errorf("%w: set vanished during save", tuner.ErrConfig)}
	}
	setDir := filepath.Join(dir, name)
	if err := os.MkdirAll(setDir, 0o755); err != nil {
		return err
	}
	targets := m.SetTargets(name)

	configPath := filepath.Join(setDir, descriptorFile)
	weightsPath := filepath.Join(setDir, weightsFile)
	keyPrefix := ""
	if cfg.Type == tuner.TypePEFT {
		configPath = filepath.Join(setDir, peftConfigFile)
		weightsPath = filepath.Join(setDir, peftWeightsFile)
		keyPrefix = peftKeyPrefix
		pc := peftConfig{
			PeftType:      tuner.PeftTypeLoRA,
			R:             cfg.Rank,
			LoraAlpha:     cfg.Alpha,
			TargetModules: cfg.TargetModules,
			Targets:       targets,
			Seed:          cfg.Seed,
		}
		if err := writeJSON(configPath, pc); err != nil {
			return err
		}
	} else {
		if err := writeJSON(configPath, setConfig{Config: cfg, Targets: targets}); err != nil {
			return err
		}
	}

	params, err := m.SetParams(name)
	if err != nil {
		return err
	}
	tensors := make([]safetensors.Tensor, 0, len(params))
	for _, p := range params {
		tensors = append(tensors, safetensors.Tensor{
			Name:  keyPrefix + p.Name,
			Shape: []int{p.Value.R, p.Value.C},
			Data:  p.Value.Data,
		})
	}
	return safetensors.Write(weightsPath, tensors)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
