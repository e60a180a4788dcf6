// Package override loads hand-written corrections to stored records. Each
// correction is a jd diff (https://github.com/josephburnett/jd) applied to the
// full JSON body of one record.
package override

import (
	"os"
	"path/filepath"

	"github.com/josephburnett/jd/v2"
	"github.com/samber/oops"
	"go.yaml.in/yaml/v4"

	"github.com/cvedb/cvedb-tools/pkg/types"
)

const configFile = "config.yaml"

// Config represents the override configuration file
type Config struct {
	Patches []PatchEntry `yaml:"patches"`
}

// PatchEntry represents a single patch entry
type PatchEntry struct {
	Target string `yaml:"target"` // Identifier of the record, e.g. "CVEDB-2021-1000001"
	Diff   string `yaml:"diff"`   // Path to jd diff file (relative to overrides dir)
}

type entry struct {
	target types.Identifier
	diff   string
}

// Patches holds loaded override configuration
type Patches struct {
	entries      []entry
	overridesDir string
}

// Patch is a parsed diff ready to be applied.
type Patch struct {
	diff jd.Diff
}

// Load reads config.yaml from the given directory
func Load(overridesDir string) (*Patches, error) {
	eb := oops.With("overrides_dir", overridesDir)

	f, err := os.Open(filepath.Join(overridesDir, configFile))
	if err != nil {
		return nil, eb.Wrapf(err, "failed to open config file")
	}
	defer f.Close()

	var cfg Config
	if err = yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, eb.Wrapf(err, "failed to parse %s", configFile)
	}

	patches := &Patches{
		entries:      make([]entry, 0, len(cfg.Patches)),
		overridesDir: overridesDir,
	}
	for _, p := range cfg.Patches {
		eb := eb.With("target", p.Target, "diff", p.Diff)
		if p.Diff == "" {
			return nil, eb.Errorf("patch entry missing 'diff' field")
		} else if !filepath.IsLocal(p.Diff) {
			return nil, eb.Errorf("diff path must be local")
		}

		id, err := types.ParseIdentifier(p.Target)
		if err != nil {
			return nil, eb.Wrapf(err, "invalid target")
		}
		patches.entries = append(patches.entries, entry{
			target: id,
			diff:   p.Diff,
		})
	}

	return patches, nil
}

// Targets returns the identifiers with a patch, in configuration order.
func (p *Patches) Targets() []types.Identifier {
	if p == nil {
		return nil
	}
	ids := make([]types.Identifier, 0, len(p.entries))
	for _, e := range p.entries {
		ids = append(ids, e.target)
	}
	return ids
}

// Match returns the patch for the record with the given identifier. Provisional
// and confirmed forms of an identifier match each other since they share a record.
// The diff file is read when a match is found.
func (p *Patches) Match(id types.Identifier) (*Patch, bool, error) {
	if p == nil {
		return nil, false, nil
	}

	for _, e := range p.entries {
		if e.target.RelPath() != id.RelPath() {
			continue
		}

		diffPath := filepath.Join(p.overridesDir, e.diff)
		diff, err := jd.ReadDiffFile(diffPath)
		if err != nil {
			return nil, false, oops.With("diff_file", diffPath).Wrapf(err, "failed to read/parse diff file")
		}
		return &Patch{diff: diff}, true, nil
	}
	return nil, false, nil
}

// Apply applies the patch to the original content.
func (p *Patch) Apply(original []byte) ([]byte, error) {
	node, err := jd.ReadJsonString(string(original))
	if err != nil {
		return nil, oops.Wrapf(err, "failed to parse original JSON")
	}

	patched, err := node.Patch(p.diff)
	if err != nil {
		return nil, oops.Wrapf(err, "failed to apply patch")
	}
	return []byte(patched.Json()), nil
}

// Count returns the number of patch entries
func (p *Patches) Count() int {
	if p == nil {
		return 0
	}
	return len(p.entries)
}
