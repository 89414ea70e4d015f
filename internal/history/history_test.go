package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLastOnMissingFile(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "nested"))
	require.NoError(t, err)

	records, err := store.Last(5)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestAppendAndLast(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	for i, v := range []string{"2", "3", "2"} {
		require.NoError(t, store.Append(BuildRecord{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Version:   v,
			Arch:      "8.0;8.9",
			Success:   i != 1,
		}))
	}

	records, err := store.Last(2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, base.Add(2*time.Hour), records[0].Timestamp.UTC())
	require.True(t, records[0].Success)
	require.Equal(t, "3", records[1].Version)
	require.False(t, records[1].Success)
}

func TestLastSkipsInvalidLines(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, store.Append(BuildRecord{Timestamp: time.Now(), Version: "3"}))

	f, err := os.OpenFile(store.Path(), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, err := store.Last(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "3", records[0].Version)
}
