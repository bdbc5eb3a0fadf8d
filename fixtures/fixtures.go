// Package fixtures embeds shared test and bootstrap assets.
package fixtures

import (
	_ "embed"
)

//go:embed config/config.yaml.template
var ConfigTemplate []byte

//go:embed activations/custom.yaml
var CustomActivations []byte
