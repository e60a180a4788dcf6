// Package allowlist decides which submitters and approvers are trusted.
//
// The list is a flat JSON array of "name:id" strings kept at the root of the
// record store. It is loaded once per session and never modified afterwards.
package allowlist

import (
	"encoding/json"
	"os"

	"github.com/samber/oops"

	"github.com/cvedb/cvedb-tools/pkg/set"
	"github.com/cvedb/cvedb-tools/pkg/types"
)

// FileName is the allow-list file at the root of a checkout.
const FileName = "allowlist.json"

type Policy struct {
	entries set.Set[string]
}

func New(entries ...string) Policy {
	return Policy{entries: set.New(entries...)}
}

// Load reads the allow-list from path.
func Load(path string) (Policy, error) {
	eb := oops.With("file_path", path)

	b, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, eb.Wrapf(err, "allow-list read error")
	}

	var entries []string
	if err = json.Unmarshal(b, &entries); err != nil {
		return Policy{}, eb.Wrapf(err, "allow-list decode error")
	}
	return New(entries...), nil
}

// IsApproved reports whether identity, in "name:id" form, is trusted.
func (p Policy) IsApproved(identity string) bool {
	return p.entries.Contains(identity)
}

func (p Policy) IsApprovedUser(name string, id int64) bool {
	return p.IsApproved(types.Identity(name, id))
}

func (p Policy) Len() int {
	return p.entries.Len()
}
