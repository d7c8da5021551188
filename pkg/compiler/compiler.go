package compiler

import (
	"fmt"

	"github.com/aymerick/raymond"
)

// Compiler renders handlebars templates against a context object. It is a
// pure function over its inputs: no side effects, no state between calls.
type Compiler interface {
	Render(template string, data map[string]any) (string, error)
}

type compiler struct{}

func New() Compiler {
	return &compiler{}
}

func (c *compiler) Render(template string, data map[string]any) (string, error) {
	out, err := raymond.Render(template, data)
	if err != nil {
		return "", fmt.Errorf("compile template: %w", err)
	}
	return out, nil
}
