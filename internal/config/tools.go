package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ToolCatalogue lists the external tool servers exposed to the retrieval loop.
type ToolCatalogue struct {
	Servers []MCPServerConfig `yaml:"mcp_servers"`
}

type MCPServerConfig struct {
	Name  string   `yaml:"name"`
	URL   string   `yaml:"url"`
	Token string   `yaml:"token"`
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// LoadToolCatalogue reads the YAML catalogue. An empty path yields an empty catalogue.
func LoadToolCatalogue(path string) (*ToolCatalogue, error) {
	if path == "" {
		return &ToolCatalogue{}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tool catalogue: %w", err)
	}

	// ${VAR} references let tokens stay out of the file
	raw = []byte(os.ExpandEnv(string(raw)))

	var catalogue ToolCatalogue
	if err := yaml.Unmarshal(raw, &catalogue); err != nil {
		return nil, fmt.Errorf("parse tool catalogue: %w", err)
	}

	for i, s := range catalogue.Servers {
		if s.Name == "" || s.URL == "" {
			return nil, fmt.Errorf("tool catalogue entry %d: name and url are required", i)
		}
	}

	return &catalogue, nil
}
