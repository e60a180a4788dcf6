package types_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvedb/cvedb-tools/pkg/types"
)

func TestParseIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    types.Identifier
		wantErr bool
	}{
		{
			name:  "confirmed",
			input: "CVEDB-2021-1000001",
			want:  types.NewIdentifier(types.Confirmed, 2021, 1000001),
		},
		{
			name:  "provisional",
			input: "CAN-1900-1000001",
			want:  types.NewIdentifier(types.Provisional, 1900, 1000001),
		},
		{
			name:  "short sequence",
			input: "CVEDB-2022-42",
			want:  types.NewIdentifier(types.Confirmed, 2022, 42),
		},
		{
			name:    "unknown prefix",
			input:   "CVE-2021-44228",
			wantErr: true,
		},
		{
			name:    "two digit year",
			input:   "CAN-21-1000001",
			wantErr: true,
		},
		{
			name:    "non numeric sequence",
			input:   "CAN-2021-10000a1",
			wantErr: true,
		},
		{
			name:    "too many fields",
			input:   "CAN-2021-1000-1",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := types.ParseIdentifier(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, types.ErrInvalidIdentifier)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.input, got.String())
		})
	}
}

func TestIdentifier_Promote(t *testing.T) {
	can := types.NewIdentifier(types.Provisional, 2021, 1000123)

	got, err := can.Promote()
	require.NoError(t, err)
	assert.Equal(t, "CVEDB-2021-1000123", got.String())
	assert.Equal(t, can.Suffix(), got.Suffix())

	_, err = got.Promote()
	require.ErrorIs(t, err, types.ErrNotProvisional)
}

func TestIdentifier_RelPath(t *testing.T) {
	can := types.NewIdentifier(types.Provisional, 2021, 1001999)
	cvedb := types.NewIdentifier(types.Confirmed, 2021, 1001999)

	want := filepath.Join("2021", "1001xxx", "CVEDB-2021-1001999.json")
	assert.Equal(t, want, can.RelPath())
	assert.Equal(t, want, cvedb.RelPath())
	assert.Equal(t, 1001, can.Block())
}

func TestFindIdentifier(t *testing.T) {
	tests := []struct {
		name   string
		title  string
		want   string
		wantOK bool
	}{
		{
			name:   "provisional in title",
			title:  "CAN-2021-1000004 Buffer overflow in foo",
			want:   "CAN-2021-1000004",
			wantOK: true,
		},
		{
			name:   "confirmed in title",
			title:  "[CVEDB-2021-1000010] XSS",
			want:   "CVEDB-2021-1000010",
			wantOK: true,
		},
		{
			name:  "no identifier",
			title: "New vulnerability report",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := types.FindIdentifier(tt.title)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got.String())
			}
		})
	}
}
