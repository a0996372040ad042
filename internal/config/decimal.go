package config

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Decimal wraps decimal.Decimal so yaml numbers and quoted strings both parse
// without a float round trip, and so env overrides can set it as text.
type Decimal struct {
	decimal.Decimal
}

func (d *Decimal) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("decimal value must be a scalar, got %s", node.Tag)
	}
	return d.set(node.Value)
}

// UnmarshalText lets caarlos0/env populate Decimal fields directly.
func (d *Decimal) UnmarshalText(text []byte) error {
	return d.set(string(text))
}

func (d *Decimal) set(raw string) error {
	if raw == "" {
		d.Decimal = decimal.Zero
		return nil
	}
	parsed, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("parse decimal %q: %w", raw, err)
	}
	d.Decimal = parsed
	return nil
}

func (d Decimal) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}
