package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cwbudde/bioenfit/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	d := New()
	d.SetScalar(KeyTheta, 2.5)
	d.SetVector(KeyW0, []float64{0.25, 0.75})
	d.SetMatrix(KeyYTilde, mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6}))

	path := filepath.Join(t.TempDir(), "sub", "data.json")
	require.NoError(t, d.Save(path))
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be gone")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{KeyTheta, KeyW0, KeyYTilde}, loaded.Keys())

	theta, err := loaded.Scalar(KeyTheta)
	require.NoError(t, err)
	assert.Equal(t, 2.5, theta)

	w0, err := loaded.Vector(KeyW0)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.25, 0.75}, w0)

	y, err := loaded.Matrix(KeyYTilde)
	require.NoError(t, err)
	r, c := y.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 3, c)
	assert.Equal(t, 6.0, y.At(1, 2))
}

func TestAccessorsCopy(t *testing.T) {
	d := New()
	v := []float64{1, 2}
	d.SetVector("v", v)
	v[0] = 99

	got, err := d.Vector("v")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got[0])
	got[1] = 42

	again, err := d.Vector("v")
	require.NoError(t, err)
	assert.Equal(t, 2.0, again[1])
}

func TestMissingAndWrongRank(t *testing.T) {
	d := New()
	d.SetVector("v", []float64{1})

	_, err := d.Scalar("nope")
	var missing *MissingKeyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "nope", missing.Key)

	_, err = d.Matrix("v")
	assert.True(t, errors.Is(err, errs.ErrInvalidInput), "got %v", err)
	assert.True(t, d.Has("v"))
	assert.False(t, d.Has("nope"))
}

func TestLoadRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"format":  `{"format":"other","version":1,"entries":{}}`,
		"version": `{"format":"bioenfit-dataset","version":7,"entries":{}}`,
		"size":    `{"format":"bioenfit-dataset","version":1,"entries":{"a":{"shape":[3],"data":[1,2]}}}`,
		"rank":    `{"format":"bioenfit-dataset","version":1,"entries":{"a":{"shape":[1,1,1],"data":[1]}}}`,
		"dim":     `{"format":"bioenfit-dataset","version":1,"entries":{"a":{"shape":[0],"data":[]}}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0644))
			_, err := Load(path)
			assert.True(t, errors.Is(err, errs.ErrInvalidInput), "got %v", err)
		})
	}

	_, err := Load(filepath.Join(dir, "absent.json"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	garbage := filepath.Join(dir, "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte("{"), 0644))
	_, err = Load(garbage)
	assert.Error(t, err)
}

func TestSyntheticProblem(t *testing.T) {
	d, err := Synthetic(7, 4, 25)
	require.NoError(t, err)

	for _, key := range []string{KeyForcesInit, KeyW0, KeyY, KeyYTilde, KeyObserved, KeySigma, KeyTheta, KeyGInit, KeyG} {
		assert.True(t, d.Has(key), "missing %s", key)
	}

	data, err := d.Problem()
	require.NoError(t, err)
	require.NoError(t, data.Validate("test"))
	m, n := data.Dims()
	assert.Equal(t, 4, m)
	assert.Equal(t, 25, n)
	assert.InDelta(t, 1.0, floats.Sum(data.W0), 1e-12)
	assert.Equal(t, DefaultTheta, data.Theta)

	f, err := d.Vector(KeyForcesInit)
	require.NoError(t, err)
	assert.Len(t, f, 4)
	g, err := d.Vector(KeyGInit)
	require.NoError(t, err)
	assert.Len(t, g, 25)

	// yTilde is y scaled row-wise by sigma.
	y, err := d.Matrix(KeyY)
	require.NoError(t, err)
	sigma, err := d.Vector(KeySigma)
	require.NoError(t, err)
	assert.InDelta(t, y.At(2, 3)/sigma[2], data.YTilde.At(2, 3), 1e-14)
	require.NotNil(t, data.Y, "problem carries the unscaled predictions")
	assert.Equal(t, y.At(2, 3), data.Y.At(2, 3))
}

func TestSyntheticDeterministic(t *testing.T) {
	a, err := Synthetic(42, 3, 10)
	require.NoError(t, err)
	b, err := Synthetic(42, 3, 10)
	require.NoError(t, err)
	c, err := Synthetic(43, 3, 10)
	require.NoError(t, err)

	va, _ := a.Vector(KeyObserved)
	vb, _ := b.Vector(KeyObserved)
	vc, _ := c.Vector(KeyObserved)
	assert.Equal(t, va, vb)
	assert.NotEqual(t, va, vc)
}

func TestSyntheticRejectsTinyShapes(t *testing.T) {
	_, err := Synthetic(1, 0, 5)
	assert.Error(t, err)
	_, err = Synthetic(1, 2, 1)
	assert.Error(t, err)
}
