//go:build tools

package inferd

// Pins code-generation tooling in go.mod.
import (
	_ "github.com/swaggo/swag/cmd/swag"
)
