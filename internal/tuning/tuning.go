package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	BasePriceCents int64 `yaml:"base_price_cents"`
	StepCents      int64 `yaml:"step_cents"`

	InboxSize      int `yaml:"inbox_size"`
	JournalLimit   int `yaml:"journal_limit"`
	ClientQueue    int `yaml:"client_queue"`
	MaxClientQueue int `yaml:"max_client_queue"`
}

func Default() Tuning {
	return Tuning{
		BasePriceCents: 100,
		StepCents:      2,
		InboxSize:      256,
		JournalLimit:   10000,
		ClientQueue:    32,
		MaxClientQueue: 256,
	}
}

func Load(path string) (Tuning, error) {
	t := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if t.BasePriceCents <= 0 || t.StepCents <= 0 {
		return t, fmt.Errorf("tuning.yaml: base_price_cents and step_cents must be positive")
	}
	return t, nil
}
