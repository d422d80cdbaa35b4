package ledger

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definitions models the structure of configs/ledgers.yaml.
type Definitions struct {
	Ledgers map[string]Definition `yaml:"ledgers"`
}

// Definition describes a single ledger endpoint definition.
type Definition struct {
	Type           string `yaml:"type"`
	URL            string `yaml:"url"`
	CanisterID     string `yaml:"canister_id"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Description    string `yaml:"description"`
}

// LoadDefinitions parses the YAML file containing ledger endpoint metadata.
func LoadDefinitions(path string) (Definitions, error) {
	if strings.TrimSpace(path) == "" {
		return Definitions{Ledgers: map[string]Definition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("读取账本配置失败: %w", err)
	}

	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return Definitions{}, fmt.Errorf("解析账本配置失败: %w", err)
	}
	if defs.Ledgers == nil {
		defs.Ledgers = map[string]Definition{}
	}
	return defs, nil
}
