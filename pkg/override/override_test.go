package override_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvedb/cvedb-tools/pkg/override"
	"github.com/cvedb/cvedb-tools/pkg/types"
)

func TestLoad(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		overridesDir string
		wantCount    int
		wantErr      string
	}{
		{
			name:         "valid config",
			overridesDir: "testdata",
			wantCount:    2,
		},
		{
			name:         "non-existent directory",
			overridesDir: "non-existent",
			wantErr:      "failed to open config file",
		},
		{
			name:         "target is not an identifier",
			overridesDir: filepath.Join("testdata", "invalid-target"),
			wantErr:      "invalid target",
		},
		{
			name:         "diff outside of the overrides dir",
			overridesDir: filepath.Join("testdata", "non-local"),
			wantErr:      "diff path must be local",
		},
		{
			name:         "missing diff",
			overridesDir: filepath.Join("testdata", "missing-diff"),
			wantErr:      "missing 'diff' field",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			patches, err := override.Load(tt.overridesDir)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantCount, patches.Count())
			assert.Equal(t, []string{"CVEDB-2021-1000001", "CAN-2021-1000002"},
				[]string{patches.Targets()[0].String(), patches.Targets()[1].String()})
		})
	}
}

func TestPatches_MatchAndApply(t *testing.T) {
	t.Parallel()

	patches, err := override.Load("testdata")
	require.NoError(t, err)

	tests := []struct {
		name      string
		id        string
		original  string
		wantMatch bool
		wantJSON  string
	}{
		{
			name:      "replace summary",
			id:        "CVEDB-2021-1000001",
			original:  `{"OSV":{"id":"CVEDB-2021-1000001","summary":"Buffer Overflow in widget version 1.2.3"}}`,
			wantMatch: true,
			wantJSON:  `{"OSV":{"id":"CVEDB-2021-1000001","summary":"Heap buffer overflow in widget 1.2.3"}}`,
		},
		{
			name:      "provisional form of a confirmed target",
			id:        "CAN-2021-1000001",
			original:  `{"OSV":{"id":"CAN-2021-1000001","summary":"Buffer Overflow in widget version 1.2.3"}}`,
			wantMatch: true,
			wantJSON:  `{"OSV":{"id":"CAN-2021-1000001","summary":"Heap buffer overflow in widget 1.2.3"}}`,
		},
		{
			name:      "add aliases",
			id:        "CVEDB-2021-1000002",
			original:  `{"OSV":{"id":"CVEDB-2021-1000002"}}`,
			wantMatch: true,
			wantJSON:  `{"OSV":{"id":"CVEDB-2021-1000002","aliases":["CVE-2021-44228"]}}`,
		},
		{
			name:     "no match",
			id:       "CVEDB-2021-1000003",
			original: `{"OSV":{"id":"CVEDB-2021-1000003"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			id, err := types.ParseIdentifier(tt.id)
			require.NoError(t, err)

			patch, ok, err := patches.Match(id)
			require.NoError(t, err)

			if !tt.wantMatch {
				assert.False(t, ok, "expected no match for %s", tt.id)
				return
			}
			require.True(t, ok, "expected match for %s", tt.id)

			got, err := patch.Apply([]byte(tt.original))
			require.NoError(t, err)
			assert.JSONEq(t, tt.wantJSON, string(got))
		})
	}
}

func TestPatch_ApplyConflict(t *testing.T) {
	t.Parallel()

	patches, err := override.Load("testdata")
	require.NoError(t, err)

	patch, ok, err := patches.Match(types.NewIdentifier(types.Confirmed, 2021, 1000001))
	require.NoError(t, err)
	require.True(t, ok)

	// the summary was changed since the diff was written
	_, err = patch.Apply([]byte(`{"OSV":{"summary":"something else"}}`))
	require.Error(t, err)
}

func TestPatches_NilSafe(t *testing.T) {
	t.Parallel()

	var patches *override.Patches

	// Should not panic
	patch, ok, err := patches.Match(types.NewIdentifier(types.Confirmed, 2021, 1000000))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, patch)
	assert.Equal(t, 0, patches.Count())
	assert.Empty(t, patches.Targets())
}
