// Package types holds the result model shared by the runner, the reports and the history store.
package types

import (
	"errors"
	"fmt"
	"time"
)

// UnitKind distinguishes the top-level application from its peer services.
type UnitKind string

const (
	UnitKindApplication UnitKind = "application"
	UnitKindService     UnitKind = "service"
)

func (k UnitKind) IsValid() bool {
	return k == UnitKindApplication || k == UnitKindService
}

// Unit identifies one independently testable component of the project.
type Unit struct {
	Name string   `json:"name"`
	Path string   `json:"path"`
	Kind UnitKind `json:"kind"`
	// Module is the Go module path declared in the unit's go.mod, if it has one.
	Module string `json:"module,omitempty"`
	// Timeout overrides the per-invocation timeout for this unit when non-zero.
	Timeout time.Duration `json:"-"`
}

// Validate checks that the unit is usable as a run target.
func (u Unit) Validate() error {
	if u.Name == "" {
		return errors.New("unit name is required")
	}
	if u.Path == "" {
		return fmt.Errorf("unit %q: path is required", u.Name)
	}
	if !u.Kind.IsValid() {
		return fmt.Errorf("unit %q: invalid kind %q", u.Name, u.Kind)
	}
	if u.Timeout < 0 {
		return fmt.Errorf("unit %q: timeout must not be negative", u.Name)
	}
	return nil
}

// ValidateUnits validates every unit and ensures names are unique.
func ValidateUnits(units []Unit) error {
	if len(units) == 0 {
		return errors.New("no units configured")
	}
	seen := make(map[string]struct{}, len(units))
	for _, u := range units {
		if err := u.Validate(); err != nil {
			return err
		}
		if _, dup := seen[u.Name]; dup {
			return fmt.Errorf("duplicate unit name %q", u.Name)
		}
		seen[u.Name] = struct{}{}
	}
	return nil
}
