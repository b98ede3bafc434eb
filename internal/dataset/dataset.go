// Package dataset stores named numeric arrays (vectors, matrices, scalars)
// in a JSON file, the exchange format for reweighting inputs.
package dataset

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/cwbudde/bioenfit/internal/errs"
	"github.com/cwbudde/bioenfit/internal/objective"
	"gonum.org/v1/gonum/mat"
)

// Format identifies dataset files.
const Format = "bioenfit-dataset"

// Version is the file format version written by Save.
const Version = 1

// Keys of a reweighting problem.
const (
	KeyForcesInit = "forces_init"
	KeyW0         = "w0"
	KeyY          = "y"
	KeyYTilde     = "yTilde"
	KeyObserved   = "YTilde"
	KeyTheta      = "theta"
	KeyGInit      = "GInit"
	KeyG          = "G"
	KeySigma      = "sigma"
)

// Entry is one array. Shape is empty for scalars, [n] for vectors and
// [rows, cols] for row-major matrices.
type Entry struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// Dataset is a keyed container of arrays.
type Dataset struct {
	entries map[string]Entry
}

type file struct {
	Format  string           `json:"format"`
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

// MissingKeyError is returned when a key is absent.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return "dataset: missing key " + e.Key
}

// New returns an empty dataset.
func New() *Dataset {
	return &Dataset{entries: make(map[string]Entry)}
}

// Load reads a dataset file.
func Load(path string) (*Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	var f file
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse dataset %s: %w", path, err)
	}
	if f.Format != Format {
		return nil, errs.Invalid("dataset", "%s is not a dataset file (format %q)", path, f.Format)
	}
	if f.Version != Version {
		return nil, errs.Invalid("dataset", "%s has unsupported version %d", path, f.Version)
	}
	d := New()
	for key, e := range f.Entries {
		if err := e.check(key); err != nil {
			return nil, err
		}
		d.entries[key] = e
	}
	slog.Debug("Dataset loaded", "path", path, "keys", len(d.entries))
	return d, nil
}

// Save writes the dataset atomically.
func (d *Dataset) Save(path string) error {
	raw, err := json.MarshalIndent(file{Format: Format, Version: Version, Entries: d.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize dataset: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("failed to write dataset: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename dataset: %w", err)
	}
	slog.Debug("Dataset saved", "path", path, "keys", len(d.entries))
	return nil
}

func (e Entry) check(key string) error {
	size := 1
	for _, s := range e.Shape {
		if s <= 0 {
			return errs.Invalid("dataset", "key %s has non-positive dimension in shape %v", key, e.Shape)
		}
		size *= s
	}
	if len(e.Shape) > 2 {
		return errs.Invalid("dataset", "key %s has rank %d, at most 2 is supported", key, len(e.Shape))
	}
	if len(e.Data) != size {
		return errs.Invalid("dataset", "key %s has %d values for shape %v", key, len(e.Data), e.Shape)
	}
	return nil
}

// Keys returns the sorted keys.
func (d *Dataset) Keys() []string {
	keys := make([]string, 0, len(d.entries))
	for k := range d.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether key is present.
func (d *Dataset) Has(key string) bool {
	_, ok := d.entries[key]
	return ok
}

func (d *Dataset) get(key string, rank int) (Entry, error) {
	e, ok := d.entries[key]
	if !ok {
		return Entry{}, &MissingKeyError{Key: key}
	}
	if len(e.Shape) != rank {
		return Entry{}, errs.Invalid("dataset", "key %s has shape %v, want rank %d", key, e.Shape, rank)
	}
	return e, nil
}

// Scalar returns the scalar stored under key.
func (d *Dataset) Scalar(key string) (float64, error) {
	e, err := d.get(key, 0)
	if err != nil {
		return 0, err
	}
	return e.Data[0], nil
}

// Vector returns a copy of the vector stored under key.
func (d *Dataset) Vector(key string) ([]float64, error) {
	e, err := d.get(key, 1)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), e.Data...), nil
}

// Matrix returns a copy of the matrix stored under key.
func (d *Dataset) Matrix(key string) (*mat.Dense, error) {
	e, err := d.get(key, 2)
	if err != nil {
		return nil, err
	}
	return mat.NewDense(e.Shape[0], e.Shape[1], append([]float64(nil), e.Data...)), nil
}

// SetScalar stores v under key.
func (d *Dataset) SetScalar(key string, v float64) {
	d.entries[key] = Entry{Shape: []int{}, Data: []float64{v}}
}

// SetVector stores a copy of v under key.
func (d *Dataset) SetVector(key string, v []float64) {
	d.entries[key] = Entry{Shape: []int{len(v)}, Data: append([]float64(nil), v...)}
}

// SetMatrix stores a copy of m under key.
func (d *Dataset) SetMatrix(key string, m mat.Matrix) {
	r, c := m.Dims()
	d.entries[key] = Entry{Shape: []int{r, c}, Data: append([]float64(nil), mat.DenseCopyOf(m).RawMatrix().Data...)}
}

// Problem assembles the scaled reweighting problem from w0, yTilde,
// YTilde and theta, plus the unscaled y when present. The result is not
// validated.
func (d *Dataset) Problem() (objective.Data, error) {
	w0, err := d.Vector(KeyW0)
	if err != nil {
		return objective.Data{}, err
	}
	yTilde, err := d.Matrix(KeyYTilde)
	if err != nil {
		return objective.Data{}, err
	}
	observed, err := d.Vector(KeyObserved)
	if err != nil {
		return objective.Data{}, err
	}
	theta, err := d.Scalar(KeyTheta)
	if err != nil {
		return objective.Data{}, err
	}
	data := objective.Data{W0: w0, YTilde: yTilde, Observed: observed, Theta: theta}
	if d.Has(KeyY) {
		if data.Y, err = d.Matrix(KeyY); err != nil {
			return objective.Data{}, err
		}
	}
	return data, nil
}
