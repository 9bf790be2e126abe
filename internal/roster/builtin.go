package roster

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/tunematch/arena/internal/profile"
)

//go:embed default_roster.yaml
var defaultRosterYAML []byte

type rosterFile struct {
	Profiles []profile.Profile `yaml:"profiles"`
}

// Builtin returns the profiles compiled into the binary.
func Builtin() ([]profile.Profile, error) {
	return Parse(defaultRosterYAML)
}

// Parse decodes a roster YAML document.
func Parse(data []byte) ([]profile.Profile, error) {
	var f rosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("roster: parse yaml: %w", err)
	}
	return f.Profiles, nil
}
