package db_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvedb/cvedb-tools/pkg/db"
)

const repoURL = "https://github.com/cvedb/cvedb.git"

func TestOpen(t *testing.T) {
	cacheDir := t.TempDir()

	c, err := db.Open(cacheDir, repoURL)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = os.Stat(db.Path(cacheDir))
	require.NoError(t, err)

	// reopening keeps the data file
	c, err = db.Open(cacheDir, repoURL)
	require.NoError(t, err)
	require.NoError(t, c.Close())
}

func TestCounter(t *testing.T) {
	tests := []struct {
		name   string
		sets   [][3]int // year, block, seq
		year   int
		block  int
		want   int
		wantOK bool
	}{
		{
			name:  "empty",
			year:  2021,
			block: 1000,
		},
		{
			name:   "single value",
			sets:   [][3]int{{2021, 1000, 1000004}},
			year:   2021,
			block:  1000,
			want:   1000004,
			wantOK: true,
		},
		{
			name:   "never decreases",
			sets:   [][3]int{{2021, 1000, 1000004}, {2021, 1000, 1000002}},
			year:   2021,
			block:  1000,
			want:   1000004,
			wantOK: true,
		},
		{
			name:  "other year",
			sets:  [][3]int{{2021, 1000, 1000004}},
			year:  2022,
			block: 1000,
		},
		{
			name:   "other block",
			sets:   [][3]int{{2021, 1000, 1000999}, {2021, 1001, 1001000}},
			year:   2021,
			block:  1001,
			want:   1001000,
			wantOK: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := db.Open(t.TempDir(), repoURL)
			require.NoError(t, err)
			defer c.Close()

			for _, s := range tt.sets {
				require.NoError(t, c.Set(s[0], s[1], s[2]))
			}

			got, ok, err := c.Last(tt.year, tt.block)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCounter_Repositories(t *testing.T) {
	cacheDir := t.TempDir()

	c, err := db.Open(cacheDir, repoURL)
	require.NoError(t, err)
	require.NoError(t, c.Set(2021, 1000, 1000002))
	require.NoError(t, c.Close())

	tests := []struct {
		name   string
		repo   string
		want   int
		wantOK bool
	}{
		{
			name:   "same repository",
			repo:   repoURL,
			want:   1000002,
			wantOK: true,
		},
		{
			name: "another repository",
			repo: "https://github.com/example/sandbox.git",
		},
		{
			name: "a local checkout",
			repo: "/tmp/checkout",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := db.Open(cacheDir, tt.repo)
			require.NoError(t, err)
			defer c.Close()

			got, ok, err := c.Last(2021, 1000)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("no repository", func(t *testing.T) {
		_, err := db.Open(cacheDir, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "repository key is required")
	})
}

func TestCounter_Metadata(t *testing.T) {
	c, err := db.Open(t.TempDir(), repoURL)
	require.NoError(t, err)
	defer c.Close()

	md, err := c.GetMetadata()
	require.NoError(t, err)
	assert.Zero(t, md.Version)

	require.NoError(t, c.Set(2021, 1000, 1000000))

	md, err = c.GetMetadata()
	require.NoError(t, err)
	assert.Equal(t, db.SchemaVersion, md.Version)
	assert.False(t, md.UpdatedAt.IsZero())
}
