package pkg

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	fake "k8s.io/utils/clock/testing"

	"github.com/cvedb/cvedb-tools/pkg/cvedb"
)

const intakeJSON = `{
  "vendor_name": "Example",
  "product_name": "widget",
  "product_version": "1.2.3",
  "vulnerability_type": "Buffer Overflow",
  "impact": "Code Execution",
  "references": ["https://example.com/advisory"],
  "reporter": "someone",
  "reporter_id": 42,
  "description": "A heap overflow in widget."
}`

type appEnv struct {
	checkout string
	cacheDir string
	intake   string
	ac       AppConfig
	out      *bytes.Buffer
}

func newAppEnv(t *testing.T) *appEnv {
	t.Helper()
	color.NoColor = true

	checkout := t.TempDir()
	_, err := git.PlainInit(checkout, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(checkout, "allowlist.json"),
		[]byte(`["joshbressers:1692786"]`), 0o644))

	intake := filepath.Join(t.TempDir(), "intake.json")
	require.NoError(t, os.WriteFile(intake, []byte(intakeJSON), 0o644))

	out := new(bytes.Buffer)
	return &appEnv{
		checkout: checkout,
		cacheDir: t.TempDir(),
		intake:   intake,
		out:      out,
		ac: AppConfig{
			Out: out,
			SessionOptions: []cvedb.Option{
				cvedb.WithClock(fake.NewFakeClock(time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC))),
			},
		},
	}
}

func (e *appEnv) run(t *testing.T, args ...string) error {
	t.Helper()
	e.out.Reset()
	global := []string{"cvedb-bot", "--checkout", e.checkout, "--cache-dir", e.cacheDir, "--dry-run"}
	return e.ac.NewApp("dev").Run(append(global, args...))
}

func TestApp_AddPromoteShow(t *testing.T) {
	e := newAppEnv(t)

	require.NoError(t, e.run(t, "add", "--file", e.intake, "--origin", "#1"))
	assert.Contains(t, e.out.String(), "CAN-2021-1000000")

	require.NoError(t, e.run(t, "show", "CAN-2021-1000000"))
	assert.Contains(t, e.out.String(), `"id": "CAN-2021-1000000"`)
	assert.Contains(t, e.out.String(), `"vendor_name": "Example"`)

	err := e.run(t, "promote", "--approver", "someone:42", "CAN-2021-1000000")
	require.ErrorIs(t, err, cvedb.ErrApproverDenied)

	require.NoError(t, e.run(t, "promote", "--approver", "joshbressers:1692786", "CAN-2021-1000000"))
	assert.Contains(t, e.out.String(), "CVEDB-2021-1000000")

	require.NoError(t, e.run(t, "add", "--file", e.intake))
	require.NoError(t, e.run(t, "list"))
	assert.Contains(t, e.out.String(), "CVEDB-2021-1000000\tBuffer Overflow in widget version 1.2.3")
	assert.Contains(t, e.out.String(), "CAN-2021-1000001\tBuffer Overflow in widget version 1.2.3")
}

func TestApp_Errors(t *testing.T) {
	e := newAppEnv(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "add without file",
			args:    []string{"add"},
			wantErr: "--file is required",
		},
		{
			name:    "add with broken intake",
			args:    []string{"add", "--file", filepath.Join(e.checkout, "allowlist.json")},
			wantErr: "intake decode error",
		},
		{
			name:    "promote without approver",
			args:    []string{"promote", "CAN-2021-1000000"},
			wantErr: "--approver is required",
		},
		{
			name:    "show an invalid identifier",
			args:    []string{"show", "GHSA-2021-1"},
			wantErr: "invalid identifier",
		},
		{
			name:    "show a missing record",
			args:    []string{"show", "CVEDB-2021-1000000"},
			wantErr: "record not found",
		},
		{
			name:    "overrides dir without config",
			args:    []string{"apply-overrides", "--dir", e.checkout},
			wantErr: "failed to open config file",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.run(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestApp_ApplyOverrides(t *testing.T) {
	e := newAppEnv(t)

	require.NoError(t, e.run(t, "add", "--file", e.intake))
	require.NoError(t, e.run(t, "add", "--file", e.intake))

	require.NoError(t, e.run(t, "apply-overrides", "--dir", filepath.Join("override", "testdata")))
	assert.Equal(t, "CAN-2021-1000001\n", e.out.String())

	require.NoError(t, e.run(t, "show", "CAN-2021-1000001"))
	assert.Contains(t, e.out.String(), `"summary": "Heap buffer overflow in widget 1.2.3"`)
}

func TestApp_ConfigFile(t *testing.T) {
	e := newAppEnv(t)
	require.NoError(t, e.run(t, "add", "--file", e.intake))

	conf := filepath.Join(t.TempDir(), "cvedb.toml")
	require.NoError(t, os.WriteFile(conf, []byte(
		"checkout = \""+filepath.ToSlash(e.checkout)+"\"\n"+
			"cache_dir = \""+filepath.ToSlash(e.cacheDir)+"\"\n"+
			"dry_run = true\n"), 0o644))

	e.out.Reset()
	require.NoError(t, e.ac.NewApp("dev").Run([]string{"cvedb-bot", "--config", conf, "list"}))
	assert.Contains(t, e.out.String(), "CAN-2021-1000000")
}
