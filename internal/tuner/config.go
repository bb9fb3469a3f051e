package tuner

// Type tags the tuner variant a Config describes.
type Type string

const (
	TypeLoRA      Type = "lora"
	TypeAdapter   Type = "adapter"
	TypePrompt    Type = "prompt"
	TypeSide      Type = "side"
	TypeResTuning Type = "restuning"
	TypePEFT      Type = "peft"
)

// Config describes one tuner variant, its hyperparameters and its target
// spec. A Config is immutable once units have been built from it; Attach
// keeps its own copy.
//
// Only the fields for the tagged variant are consulted; the rest stay at
// their zero values and are omitted from serialized form.
type Config struct {
	Type Type `json:"type"`

	// Target spec: either a list of dotted-suffix fragments or a full-path
	// regular expression (the reserved pattern AllLinear selects every
	// module with a 2-D weight). AllowEmpty turns the zero-match error into
	// a no-op attach, useful for extra-state-only checkpoints.
	TargetModules []string `json:"target_modules,omitempty"`
	TargetPattern string   `json:"target_pattern,omitempty"`
	AllowEmpty    bool     `json:"allow_empty,omitempty"`

	// lora / peft
	Rank  int     `json:"r,omitempty"`
	Alpha float32 `json:"lora_alpha,omitempty"`

	// adapter
	BottleneckDim int    `json:"bottleneck_dim,omitempty"`
	Activation    string `json:"activation,omitempty"` // gelu (default), relu, silu
	HiddenDim     int    `json:"hidden_dim,omitempty"` // expected feature width; 0 = infer

	// prompt
	PromptLength int `json:"prompt_length,omitempty"`
	EmbedDim     int `json:"embed_dim,omitempty"` // expected feature width; 0 = infer
	// AttachSide is "prefix" (default) or "suffix".
	AttachSide string `json:"attach_side,omitempty"`

	// side
	SideDim   int     `json:"side_dim,omitempty"`
	Gate      string  `json:"gate,omitempty"` // fixed (default) or learned
	GateValue float32 `json:"gate_value,omitempty"`

	// restuning: Root names the recombination point; the target spec names
	// the stem points the bypass threads through.
	Root string `json:"root,omitempty"`

	// peft: the foreign library's type tag, carried verbatim so the subdir
	// stays loadable by that library.
	PeftType string `json:"peft_type,omitempty"`

	// Seed drives deterministic parameter init; tests and persistence
	// round trips rely on it.
	Seed int64 `json:"seed,omitempty"`
}

// Scale returns the delta scaling factor alpha/r used by low-rank
// variants. A zero alpha defaults to the rank, giving scale 1.
func (c Config) Scale() float32 {
	if c.Rank == 0 {
		return 0
	}
	if c.Alpha == 0 {
		return 1
	}
	return c.Alpha / float32(c.Rank)
}
