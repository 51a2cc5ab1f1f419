package sim

import (
	_ "embed"
	"fmt"
)

//go:embed hand.yaml
var handModel []byte

// DefaultModel returns the built-in hand model.
func DefaultModel() *Model {
	m, err := ParseModel(handModel)
	if err != nil {
		panic(fmt.Sprintf("built-in model: %v", err))
	}
	return m
}
