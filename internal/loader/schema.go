package loader

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Canonical facility column names.
const (
	FacilityNameColumn = "Facility Name"
	LGANameColumn      = "LGA Name"
)

//go:embed aliases.yaml
var defaultAliases []byte

// Aliases lists the accepted spellings of each facilities column, most
// preferred first.
type Aliases struct {
	Latitude  []string `yaml:"latitude"`
	Longitude []string `yaml:"longitude"`
	ID        []string `yaml:"id"`
	Name      []string `yaml:"name"`
	LGA       []string `yaml:"lga"`
}

// DefaultAliases returns the built-in alias lists.
func DefaultAliases() Aliases {
	a, err := parseAliases(defaultAliases)
	if err != nil {
		panic(err) // embedded file is part of the build
	}
	return a
}

// LoadAliases reads alias lists from a YAML file. Lists the file omits keep
// their defaults. An empty path returns the defaults.
func LoadAliases(path string) (Aliases, error) {
	if path == "" {
		return DefaultAliases(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Aliases{}, eris.Wrap(err, "loader: read aliases")
	}
	override, err := parseAliases(data)
	if err != nil {
		return Aliases{}, err
	}
	return DefaultAliases().merge(override), nil
}

func parseAliases(data []byte) (Aliases, error) {
	var a Aliases
	if err := yaml.Unmarshal(data, &a); err != nil {
		return Aliases{}, eris.Wrap(err, "loader: parse aliases")
	}
	return a, nil
}

func (a Aliases) merge(o Aliases) Aliases {
	pick := func(base, over []string) []string {
		if len(over) > 0 {
			return over
		}
		return base
	}
	return Aliases{
		Latitude:  pick(a.Latitude, o.Latitude),
		Longitude: pick(a.Longitude, o.Longitude),
		ID:        pick(a.ID, o.ID),
		Name:      pick(a.Name, o.Name),
		LGA:       pick(a.LGA, o.LGA),
	}
}
