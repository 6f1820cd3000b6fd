package curve_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/mutker/thermalctl/internal/curve"
	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *curve.Store {
	t.Helper()
	return curve.NewStore(filepath.Join(t.TempDir(), "lib", "thermalctl", "curve.bin"), logger.Nop())
}

func TestStoreLoadCreatesMissingFile(t *testing.T) {
	store := newStore(t)

	table, result := store.Load()
	assert.Equal(t, curve.Created, result)
	assert.Equal(t, curve.Default(), table)

	_, err := os.Stat(store.Path())
	require.NoError(t, err)

	table, result = store.Load()
	assert.Equal(t, curve.Loaded, result)
	assert.Equal(t, curve.Default(), table)
}

func TestStoreSaveAndRead(t *testing.T) {
	store := newStore(t)
	want := curve.Table{
		{TemperatureC: 25, DutyCycle: 0.15},
		{TemperatureC: 45, DutyCycle: 0.35},
		{TemperatureC: 65, DutyCycle: 0.75},
		{TemperatureC: 75, DutyCycle: 0.9},
		{TemperatureC: 85, DutyCycle: 0.95},
		{TemperatureC: 95, DutyCycle: 1},
	}

	require.NoError(t, store.Save(want))

	got, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStoreSaveRejectsInvalidTable(t *testing.T) {
	store := newStore(t)

	err := store.Save(curve.Table{{TemperatureC: 10, DutyCycle: 0.1}})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, curve.ErrInvalidTable))

	_, err = os.Stat(store.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestStoreSaveRejectsPointsCollapsingAtStoredPrecision(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.Save(curve.Default()))

	table := curve.Table{
		{TemperatureC: 20, DutyCycle: 0.1},
		{TemperatureC: 20.0000001, DutyCycle: 0.2},
		{TemperatureC: 60, DutyCycle: 0.9},
	}
	require.NoError(t, table.Validate())

	err := store.Save(table)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, curve.ErrInvalidTable))

	stored, result := store.Load()
	assert.Equal(t, curve.Loaded, result)
	assert.Equal(t, curve.Default(), stored, "previous file is kept")
}

func TestStoreReadsLegacyLayout(t *testing.T) {
	store := newStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o755))

	var buf bytes.Buffer
	for _, p := range [][2]float32{{20, 0.1}, {40, 0.5}, {50, 0.6}, {60, 0.7}, {100, 1}} {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, p))
	}
	require.Len(t, buf.Bytes(), 40)
	require.NoError(t, os.WriteFile(store.Path(), buf.Bytes(), 0o644))

	table, result := store.Load()
	assert.Equal(t, curve.Loaded, result)
	assert.Equal(t, curve.Default(), table)
}

func TestStoreFallsBackOnCorruptFile(t *testing.T) {
	store := newStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o755))
	garbage := []byte("not a curve")
	require.NoError(t, os.WriteFile(store.Path(), garbage, 0o644))

	table, result := store.Load()
	assert.Equal(t, curve.Fallback, result)
	assert.Equal(t, curve.Default(), table)

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Equal(t, garbage, data, "corrupt file must be left for inspection")
}

func TestStoreFallsBackOnNonMonotonicFile(t *testing.T) {
	store := newStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o755))

	data, err := curve.Marshal(curve.Table{{TemperatureC: 60, DutyCycle: 0.9}, {TemperatureC: 40, DutyCycle: 0.2}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path(), data, 0o644))

	_, err = store.Read()
	assert.True(t, errors.HasCode(err, curve.ErrInvalidTable))

	_, result := store.Load()
	assert.Equal(t, curve.Fallback, result)
}

func TestUnmarshalRejectsBadHeaders(t *testing.T) {
	data, err := curve.Marshal(curve.Default())
	require.NoError(t, err)

	wrongVersion := append([]byte(nil), data...)
	binary.LittleEndian.PutUint16(wrongVersion[4:6], 9)
	_, err = curve.Unmarshal(wrongVersion)
	assert.True(t, errors.HasCode(err, curve.ErrUnsupportedVer))

	truncated := data[:len(data)-3]
	_, err = curve.Unmarshal(truncated)
	assert.True(t, errors.HasCode(err, curve.ErrCorruptFile))

	hugeCount := append([]byte(nil), data...)
	binary.LittleEndian.PutUint16(hugeCount[6:8], 60000)
	_, err = curve.Unmarshal(hugeCount)
	assert.True(t, errors.HasCode(err, curve.ErrCorruptFile))
}

func TestLoadResultString(t *testing.T) {
	assert.Equal(t, "loaded", curve.Loaded.String())
	assert.Equal(t, "created", curve.Created.String())
	assert.Equal(t, "fallback", curve.Fallback.String())
}
