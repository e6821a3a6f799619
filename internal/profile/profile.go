// Package profile loads named agent profiles from the agent store.
//
// A profile is a YAML file at <home>/.agent-orchestrator/agent-store/<name>.yaml
// holding the persona the underlying CLI should be launched with.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/caolabs/cao/internal/common/constants"
	apperrors "github.com/caolabs/cao/internal/common/errors"
)

// Profile is a named agent persona.
type Profile struct {
	Name         string                 `yaml:"-"`
	SystemPrompt string                 `yaml:"system_prompt"`
	MCPServers   map[string]interface{} `yaml:"mcp_servers"`
}

// MCPConfigJSON renders the profile's MCP servers in the JSON shape the
// claude CLI accepts via --mcp-config. Empty when no servers are declared.
func (p *Profile) MCPConfigJSON() (string, error) {
	if len(p.MCPServers) == 0 {
		return "", nil
	}
	out, err := json.Marshal(map[string]interface{}{"mcpServers": p.MCPServers})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Store loads profiles from a directory.
type Store struct {
	dir string
}

// NewStore returns a store over the default agent-store directory.
func NewStore() (*Store, error) {
	dir, err := constants.AgentStoreDir()
	if err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

// NewStoreAt returns a store over an explicit directory.
func NewStoreAt(dir string) *Store {
	return &Store{dir: dir}
}

// Load reads the profile for name. A missing file yields a bare profile
// carrying only the name; a malformed file is a ProviderError.
func (s *Store) Load(name string) (*Profile, error) {
	path := filepath.Join(s.dir, name+".yaml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Profile{Name: name}, nil
	}
	if err != nil {
		return nil, apperrors.ProviderError(fmt.Sprintf("failed to read agent profile %q", name), err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, apperrors.ProviderError(fmt.Sprintf("failed to parse agent profile %q", name), err)
	}
	p.Name = name
	return &p, nil
}
