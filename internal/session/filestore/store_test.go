package filestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"krishi/internal/geo"
	"krishi/internal/logging"
	"krishi/internal/session"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "session.json"), logging.Nop())
	snap, err := store.Load()
	require.NoError(t, err)
	require.Nil(t, snap.Location)
	require.Nil(t, snap.LastDiagnosis)
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store := New(path, logging.Nop())

	state := session.New()
	state.SetLocation(geo.Point{Lat: 18.52, Lon: 73.85}, "Pune")
	state.SelectField(session.Field{Name: "River plot", Crop: "Sugarcane", AreaAcres: 2.5})
	require.NoError(t, store.Save(state.Snapshot()))

	snap, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, snap.Location)
	require.Equal(t, "Pune", snap.Location.Place)
	require.InDelta(t, 73.85, snap.Location.Point.Lon, 1e-9)
	require.Equal(t, "Sugarcane", snap.SelectedField.Crop)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files are cleaned up")
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := New(path, logging.Nop()).Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode session")
}

func TestHomeExpansion(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	store := New("~/.krishi/session.json", nil)
	require.Equal(t, filepath.Join(home, ".krishi", "session.json"), store.Path())
}
