package locator

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// GazetteerFileConfig points at the two static reference datasets, loaded
// once at startup.
type GazetteerFileConfig struct {
	Copart string `yaml:"copart"`
	IAAI   string `yaml:"iaai"`
}

// FallbackFileConfig configures the OpenAI-compatible fallback endpoint.
// Fallback is enabled when base_url is non-empty.
type FallbackFileConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Model         string        `yaml:"model"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	MinInterval   time.Duration `yaml:"min_interval"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
}

type FileConfig struct {
	DB    string `yaml:"db"`
	Debug bool   `yaml:"debug"`

	// ConversationsGlob matches conversation dump files written by the
	// external SMS transport client.
	ConversationsGlob string `yaml:"conversations_glob"`

	PollInterval time.Duration `yaml:"poll_interval"`

	Gazetteer GazetteerFileConfig `yaml:"gazetteer"`
	Fallback  FallbackFileConfig  `yaml:"fallback"`
}

func LoadConfig(path string) (*FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
