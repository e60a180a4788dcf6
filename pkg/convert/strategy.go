package convert

import (
	"strings"

	"github.com/package-url/packageurl-go"
	"github.com/samber/lo"
	"golang.org/x/xerrors"

	"github.com/cvedb/cvedb-tools/pkg/osv"
	"github.com/cvedb/cvedb-tools/pkg/types"
)

const (
	KernelEcosystem = "Linux"
	KernelRepo      = "https://git.kernel.org/pub/scm/linux/kernel/git/stable/linux.git/"

	kernelProduct = "Kernel"
	kernelVendor  = "Linux"
	kernelImpact  = "unspecified"

	referenceCommit = "commit"
	noteIntroduced  = "introduced"
	noteFixed       = "fixed"

	// rootCommit marks a range open since the beginning of history
	rootCommit = "0"
)

var (
	ErrUnrecognizedReference = xerrors.New("unrecognized reference")
	ErrUnrecognizedNote      = xerrors.New("unrecognized note")
)

// KernelStrategy handles Linux kernel advisories. They are described by commits in
// the stable tree instead of versions and references.
type KernelStrategy struct{}

func (KernelStrategy) Name() string { return "kernel" }

func (KernelStrategy) Match(in types.Intake) bool {
	return in.ProductName == kernelProduct && in.VendorName == kernelVendor && in.Impact == kernelImpact
}

func (KernelStrategy) Apply(entry *osv.Entry, in types.Intake) error {
	introduced, limit := rootCommit, ""
	for _, ref := range in.ExtendedReferences {
		if ref.Type != referenceCommit {
			return xerrors.Errorf("%q: %w", ref.Type, ErrUnrecognizedReference)
		}

		switch ref.Note {
		case noteIntroduced:
			introduced = ref.Value
		case noteFixed:
			limit = ref.Value
		default:
			return xerrors.Errorf("%q: %w", ref.Note, ErrUnrecognizedNote)
		}
	}

	entry.Summary = strings.SplitN(in.Description, "\n", 2)[0]
	entry.References = nil

	affected := &entry.Affected[0]
	affected.Package.Ecosystem = KernelEcosystem
	affected.Versions = nil
	affected.Ranges = []osv.Range{
		{
			Type: osv.RangeTypeGit,
			Repo: KernelRepo,
			Events: []osv.Event{
				{Introduced: lo.ToPtr(introduced)},
				{Limit: lo.ToPtr(limit)},
			},
		},
	}
	return nil
}

// DefaultStrategy lists the single affected version and the web references of the report.
type DefaultStrategy struct{}

func (DefaultStrategy) Name() string { return "default" }

func (DefaultStrategy) Match(types.Intake) bool { return true }

func (DefaultStrategy) Apply(entry *osv.Entry, in types.Intake) error {
	affected := &entry.Affected[0]
	affected.Ranges = nil
	affected.Versions = []string{in.ProductVersion}
	affected.Package.Purl = packageURL(in)

	// written even when there are none
	entry.References = make([]osv.Reference, 0, len(in.References))
	entry.References = append(entry.References, lo.Map(in.References, func(url string, _ int) osv.Reference {
		return osv.Reference{
			Type: osv.ReferenceTypeWeb,
			URL:  url,
		}
	})...)
	return nil
}

// packageURL returns a generic purl for the product, without a version as OSV
// requires. e.g. pkg:generic/apache/log4j
func packageURL(in types.Intake) string {
	if in.ProductName == "" {
		return ""
	}
	return packageurl.NewPackageURL(packageurl.TypeGeneric, in.VendorName, in.ProductName, "", nil, "").ToString()
}
