package tuner

import "fmt"

// The peft variant delegates to the foreign adapter library's convention:
// its config mirrors that library's schema and its checkpoint subdirectory
// uses the library's native file and key names, so the result loads
// outside this system. The delta math itself is the low-rank form.
//
// Only the LORA schema is supported; other peft types have no counterpart
// here.

// PeftTypeLoRA is the foreign library's tag for its low-rank adapter.
const PeftTypeLoRA = "LORA"

func buildPEFT(name string, cfg Config, g *graph, targets []string) (map[string]Unit, error) {
	if cfg.PeftType != "" && cfg.PeftType != PeftTypeLoRA {
		return nil, &Error{Tuner: name,
			Err: fmt.Errorf("%w: unsupported peft type %q", ErrConfig, cfg.PeftType)}
	}
	// The foreign schema names its targets as a module list; a pattern has
	// no representation there and could not be replayed from a saved
	// adapter_config.json.
	if cfg.TargetPattern != "" {
		return nil, &Error{Tuner: name,
			Err: fmt.Errorf("%w: peft sets take target_modules, not target_pattern", ErrConfig)}
	}
	// Foreign key naming: lora_A.weight / lora_B.weight.
	return buildLowRank(name, cfg, g, targets, "lora_A.weight", "lora_B.weight")
}
