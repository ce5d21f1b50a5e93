package template

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/ArionMiles/mailspend/pkg/api"
)

//go:embed providers.yaml
var builtinProviders []byte

// Builtins returns the provider templates shipped with mailspend.
func Builtins() ([]api.Provider, error) {
	var providers []api.Provider
	if err := yaml.Unmarshal(builtinProviders, &providers); err != nil {
		return nil, fmt.Errorf("parsing built-in providers: %w", err)
	}
	for _, p := range providers {
		if err := Validate(p.Template); err != nil {
			return nil, fmt.Errorf("built-in provider %q: %w", p.Name, err)
		}
	}
	return providers, nil
}
