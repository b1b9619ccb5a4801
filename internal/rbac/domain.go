package rbac

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gapt-edu/gapt/internal/access"
)

// ErrInvalidGrant rejects a matrix write outside the role's assignable set.
var ErrInvalidGrant = fmt.Errorf("rbac: invalid grant: %w", access.ErrConfiguration)

// Grant is one stored cell of the permission matrix.
type Grant struct {
	Role    access.Role
	Feature access.Feature
	Level   access.Level
}

// Change describes an applied SetLevel.
type Change struct {
	Role     access.Role
	Feature  access.Feature
	Previous access.Level
	Level    access.Level
}

type cell struct {
	role    access.Role
	feature access.Feature
}

// Matrix is an immutable (role, feature) -> level mapping. Cells that were
// never stored read as NO_ACCESS.
type Matrix struct {
	cells map[cell]access.Level
}

// NewMatrix builds a matrix from grants; later grants for the same cell win.
func NewMatrix(grants ...Grant) Matrix {
	m := Matrix{cells: make(map[cell]access.Level, len(grants))}
	for _, g := range grants {
		m.cells[cell{g.Role, g.Feature}] = g.Level
	}
	return m
}

// GetLevel returns the stored level or NO_ACCESS.
func (m Matrix) GetLevel(role access.Role, feature access.Feature) access.Level {
	if level, ok := m.cells[cell{role, feature}]; ok {
		return level
	}
	return access.LevelNoAccess
}

// With returns a copy of m with one cell replaced.
func (m Matrix) With(g Grant) Matrix {
	next := Matrix{cells: make(map[cell]access.Level, len(m.cells)+1)}
	for k, v := range m.cells {
		next.cells[k] = v
	}
	next.cells[cell{g.Role, g.Feature}] = g.Level
	return next
}

// Len reports the number of explicitly stored cells.
func (m Matrix) Len() int {
	return len(m.cells)
}

// Grants lists stored cells ordered by role then feature.
func (m Matrix) Grants() []Grant {
	out := make([]Grant, 0, len(m.cells))
	for k, v := range m.cells {
		out = append(out, Grant{Role: k.role, Feature: k.feature, Level: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Role != out[j].Role {
			return out[i].Role < out[j].Role
		}
		return out[i].Feature < out[j].Feature
	})
	return out
}

// Rows renders the total mapping for every role and feature by storage name.
func (m Matrix) Rows() map[string]map[string]string {
	rows := make(map[string]map[string]string, len(access.Roles()))
	for _, role := range access.Roles() {
		row := make(map[string]string, len(access.Features()))
		for _, feature := range access.Features() {
			row[feature.String()] = m.GetLevel(role, feature).String()
		}
		rows[role.String()] = row
	}
	return rows
}

// MarshalJSON encodes the total mapping.
func (m Matrix) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Rows())
}

// MarshalJSON encodes levels by storage name.
func (c Change) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Role     string `json:"role"`
		Feature  string `json:"feature"`
		Previous string `json:"previous"`
		Level    string `json:"level"`
	}{c.Role.String(), c.Feature.String(), c.Previous.String(), c.Level.String()})
}
