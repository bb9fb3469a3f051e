package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/graft/internal/nn"
	"github.com/samcharles93/graft/internal/safetensors"
	"github.com/samcharles93/graft/internal/tuner"
)

// Load reconstructs a composition on a fresh base model by replaying each
// saved set's attach and restoring its weights. With no names given, every
// set in the descriptor loads. The base model must expose exactly the
// module paths recorded at save time; any disagreement is a structural
// mismatch, not a partial load.
func Load(base nn.Module, dir string, names ...string) (*tuner.Model, error) {
	desc, err := ReadDescriptor(dir)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		names = desc.Sets
	} else {
		for _, n := range names {
			if !slices.Contains(desc.Sets, n) {
				return nil, &tuner.Error{Tuner: n,
					Err: fmt.Errorf("%w: checkpoint has no such tuner set", tuner.ErrFormat)}
			}
		}
	}

	m, err := tuner.Compose(base)
	if err != nil {
		return nil, err
	}

	// Attach serially so composition order is deterministic, then restore
	// weights concurrently.
	for _, name := range names {
		cfg, savedTargets, err := readSetConfig(dir, name)
		if err != nil {
			return nil, err
		}
		if err := m.Attach(name, cfg); err != nil {
			return nil, err
		}
		if got := m.SetTargets(name); !slices.Equal(got, savedTargets) {
			return nil, &tuner.Error{Tuner: name,
				Err: fmt.Errorf("%w: saved targets %v, base model resolves %v",
					tuner.ErrStructureMismatch, savedTargets, got)}
		}
	}

	var g errgroup.Group
	for _, name := range names {
		g.Go(func() error {
			return loadSetWeights(m, dir, name)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(desc.ExtraKeys) > 0 {
		if err := m.RegisterExtraState(desc.ExtraKeys...); err != nil {
			return nil, err
		}
		if err := loadExtraWeights(m, dir); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ReadDescriptor parses the root descriptor of a checkpoint directory.
func ReadDescriptor(dir string) (Descriptor, error) {
	var desc Descriptor
	data, err := os.ReadFile(filepath.Join(dir, descriptorFile))
	if err != nil {
		return desc, fmt.Errorf("%w: %v", tuner.ErrFormat, err)
	}
	if err := json.Unmarshal(data, &desc); err != nil {
		return desc, fmt.Errorf("%w: bad descriptor: %v", tuner.ErrFormat, err)
	}
	if desc.FormatVersion != FormatVersion {
		return desc, fmt.Errorf("%w: unsupported format version %d", tuner.ErrFormat, desc.FormatVersion)
	}
	return desc, nil
}

func readSetConfig(dir, name string) (tuner.Config, []string, error) {
	setDir := filepath.Join(dir, name)

	// A foreign-format subdirectory is recognised by its config file name.
	if data, err := os.ReadFile(filepath.Join(setDir, peftConfigFile)); err == nil {
		var pc peftConfig
		if err := json.Unmarshal(data, &pc); err != nil {
			return tuner.Config{}, nil, &tuner.Error{Tuner: name,
				Err: fmt.Errorf("%w: bad %s: %v", tuner.ErrFormat, peftConfigFile, err)}
		}
		cfg := tuner.Config{
			Type:          tuner.TypePEFT,
			PeftType:      pc.PeftType,
			Rank:          pc.R,
			Alpha:         pc.LoraAlpha,
			TargetModules: pc.TargetModules,
			Seed:          pc.Seed,
		}
		return cfg, pc.Targets, nil
	}

	data, err := os.ReadFile(filepath.Join(setDir, descriptorFile))
	if err != nil {
		return tuner.Config{}, nil, &tuner.Error{Tuner: name,
			Err: fmt.Errorf("%w: %v", tuner.ErrFormat, err)}
	}
	var sc setConfig
	if err := json.Unmarshal(data, &sc); err != nil {
		return tuner.Config{}, nil, &tuner.Error{Tuner: name,
			Err: fmt.Errorf("%w: bad set config: %v", tuner.ErrFormat, err)}
	}
	return sc.Config, sc.Targets, nil
}

func loadSetWeights(m *tuner.Model, dir, name string) error {
	cfg, _ := m.SetConfig(name)
	weightsPath := filepath.Join(dir, name, weightsFile)
	keyPrefix := ""
	if cfg.Type == tuner.TypePEFT {
		weightsPath = filepath.Join(dir, name, peftWeightsFile)
		keyPrefix = peftKeyPrefix
	}
	f, err := safetensors.Open(weightsPath)
	if err != nil {
		return &tuner.Error{Tuner: name, Err: fmt.Errorf("%w: %v", tuner.ErrFormat, err)}
	}
	params, err := m.SetParams(name)
	if err != nil {
		return err
	}
	for _, p := range params {
		if err := restoreParam(f, keyPrefix+p.Name, p); err != nil {
			return &tuner.Error{Tuner: name, Err: err}
		}
	}
	return nil
}

func loadExtraWeights(m *tuner.Model, dir string) error {
	f, err := safetensors.Open(filepath.Join(dir, weightsFile))
	if err != nil {
		return fmt.Errorf("%w: %v", tuner.ErrFormat, err)
	}
	for _, p := range m.ExtraParams() {
		if err := restoreParam(f, p.Name, p); err != nil {
			return err
		}
	}
	return nil
}

func restoreParam(f *safetensors.File, key string, p nn.Param) error {
	data, info, err := f.ReadTensorF32(key)
	if err != nil {
		return fmt.Errorf("%w: %v", tuner.ErrFormat, err)
	}
	if len(info.Shape) != 2 || info.Shape[0] != p.Value.R || info.Shape[1] != p.Value.C {
		return fmt.Errorf("%w: tensor %s has shape %v, want [%d %d]",
			tuner.ErrStructureMismatch, key, info.Shape, p.Value.R, p.Value.C)
	}
	copy(p.Value.Data, data)
	return nil
}
