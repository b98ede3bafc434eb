package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cwbudde/bioenfit/internal/objective"
	"gonum.org/v1/gonum/mat"
)

// GoldenVersion is the reference file format written by SaveGolden.
const GoldenVersion = 1

// Golden is a versioned set of reference optima used for regression tests.
type Golden struct {
	Version     int          `json:"version"`
	Description string       `json:"description,omitempty"`
	Cases       []GoldenCase `json:"cases"`
}

// GoldenCase is one reweighting problem with its reference minimum.
type GoldenCase struct {
	Name       string      `json:"name"`
	W0         []float64   `json:"w0"`
	YTilde     [][]float64 `json:"y_tilde"`
	Observed   []float64   `json:"observed"`
	Theta      float64     `json:"theta"`
	ForcesInit []float64   `json:"forces_init"`

	InitialObjective float64   `json:"initial_objective"`
	Objective        float64   `json:"objective"`
	ChiSquare        float64   `json:"chi_square"`
	Entropy          float64   `json:"entropy"`
	Forces           []float64 `json:"forces,omitempty"`
}

// Data assembles the problem of the case.
func (c GoldenCase) Data() (objective.Data, error) {
	m := len(c.YTilde)
	if m == 0 {
		return objective.Data{}, &ValidationError{Field: c.Name + ".y_tilde", Reason: "cannot be empty"}
	}
	n := len(c.YTilde[0])
	raw := make([]float64, 0, m*n)
	for k, row := range c.YTilde {
		if len(row) != n {
			return objective.Data{}, &ValidationError{
				Field:  c.Name + ".y_tilde",
				Reason: fmt.Sprintf("row %d has %d entries, want %d", k, len(row), n),
			}
		}
		raw = append(raw, row...)
	}
	return objective.Data{
		W0:       append([]float64(nil), c.W0...),
		YTilde:   mat.NewDense(m, n, raw),
		Observed: append([]float64(nil), c.Observed...),
		Theta:    c.Theta,
	}, nil
}

// Validate checks the version and every case.
func (g *Golden) Validate() error {
	if g.Version != GoldenVersion {
		return &ValidationError{Field: "version", Reason: fmt.Sprintf("unsupported version %d (want %d)", g.Version, GoldenVersion)}
	}
	if len(g.Cases) == 0 {
		return &ValidationError{Field: "cases", Reason: "cannot be empty"}
	}
	seen := make(map[string]bool, len(g.Cases))
	for _, c := range g.Cases {
		if c.Name == "" {
			return &ValidationError{Field: "cases.name", Reason: "cannot be empty"}
		}
		if seen[c.Name] {
			return &ValidationError{Field: "cases.name", Reason: "duplicate " + c.Name}
		}
		seen[c.Name] = true
		data, err := c.Data()
		if err != nil {
			return err
		}
		if err := data.Validate("golden." + c.Name); err != nil {
			return &ValidationError{Field: c.Name, Reason: err.Error()}
		}
		if m, _ := data.Dims(); len(c.ForcesInit) != m {
			return &ValidationError{Field: c.Name + ".forces_init", Reason: fmt.Sprintf("has %d entries, want %d", len(c.ForcesInit), m)}
		}
	}
	return nil
}

// Case returns the case with the given name.
func (g *Golden) Case(name string) (GoldenCase, bool) {
	for _, c := range g.Cases {
		if c.Name == name {
			return c, true
		}
	}
	return GoldenCase{}, false
}

// LoadGolden reads and validates a reference file.
func LoadGolden(path string) (*Golden, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{RunID: filepath.Base(path)}
		}
		return nil, fmt.Errorf("failed to read golden file: %w", err)
	}
	var g Golden
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to parse golden file %s: %w", path, err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	slog.Debug("Golden file loaded", "path", path, "cases", len(g.Cases))
	return &g, nil
}

// SaveGolden validates g and writes it atomically.
func SaveGolden(path string, g *Golden) error {
	if err := g.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize golden file: %w", err)
	}
	return writeAtomic(path, append(data, '\n'))
}
