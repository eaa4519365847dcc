// Package accession classifies raw identifier strings into one of the 21
// AccessionType tags defined by spec.md §3, and normalizes them. It is a
// pure, dependency-free foundation: every other package in this module
// builds on Classify.
package accession

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ddbj/dblink/internal/errs"
)

// AccessionType is one of the 21 closed-set tags from spec.md §3.
type AccessionType uint8

const (
	Unknown AccessionType = iota
	BioProject
	UmbrellaBioProject
	BioSample
	SRASubmission
	SRAStudy
	SRAExperiment
	SRARun
	SRASample
	SRAAnalysis
	JGAStudy
	JGADataset
	JGADAC
	JGAPolicy
	GEA
	MetaboBank
	INSDCAssembly
	INSDCMaster
	HumID
	PubMedID
	Geo
	Taxonomy
)

// typeNames gives each AccessionType its canonical string, also used to
// derive the fixed total order over (AccessionType, accession) pairs
// (spec.md §3 "Canonical form").
var typeNames = map[AccessionType]string{
	Unknown:            "unknown",
	BioProject:         "bioproject",
	UmbrellaBioProject: "umbrella-bioproject",
	BioSample:          "biosample",
	SRASubmission:      "sra-submission",
	SRAStudy:           "sra-study",
	SRAExperiment:      "sra-experiment",
	SRARun:             "sra-run",
	SRASample:          "sra-sample",
	SRAAnalysis:        "sra-analysis",
	JGAStudy:           "jga-study",
	JGADataset:         "jga-dataset",
	JGADAC:             "jga-dac",
	JGAPolicy:          "jga-policy",
	GEA:                "gea",
	MetaboBank:         "metabobank",
	INSDCAssembly:      "insdc-assembly",
	INSDCMaster:        "insdc-master",
	HumID:              "hum-id",
	PubMedID:           "pubmed-id",
	Geo:                "geo",
	Taxonomy:           "taxonomy",
}

func (t AccessionType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "unknown"
}

// Ordinal returns the type's position in the fixed total order used by
// canonical edge construction (spec.md §3). It is stable across releases
// because AccessionType's int values never change once assigned.
func (t AccessionType) Ordinal() int { return int(t) }

// Accession is a classified, normalized identifier.
type Accession struct {
	Type  AccessionType
	Value string
}

// Less implements the fixed total order over (AccessionType, accession):
// AccessionType ordinal ascending, then accession lexicographic
// (spec.md §3 "Canonical form").
func (a Accession) Less(b Accession) bool {
	if a.Type != b.Type {
		return a.Type.Ordinal() < b.Type.Ordinal()
	}
	return a.Value < b.Value
}

func (a Accession) String() string { return fmt.Sprintf("%s:%s", a.Type, a.Value) }

// rule is one entry of the table-driven matcher (spec.md §9 design note:
// "Prefer a table-driven matcher ... over ad-hoc chains").
type rule struct {
	pattern   *regexp.Regexp
	typ       AccessionType
	normalize func(string) string
}

func stripVersionSuffix(s string) string {
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}

func identity(s string) string { return s }

// rules is the closed, ordered list of (pattern, type, normalizer) entries.
// Order matters where patterns overlap: a 7-digit number is pubmed-id, not
// taxonomy, and the generic insdc-master shape (4-6 letters, 8+ digits)
// also matches ids such as SAMN00000001 or PRJNA12345678, so it comes
// after the prefix-specific rules.
var rules = []rule{
	{regexp.MustCompile(`^PRJNA\d+$|^PRJEB\d+$|^PRJDB\d+$`), BioProject, identity},
	{regexp.MustCompile(`^SAM[NED][A-Z]?\d+$`), BioSample, identity},
	{regexp.MustCompile(`^[DES]RA\d+$`), SRASubmission, identity},
	{regexp.MustCompile(`^[DES]RP\d+$`), SRAStudy, identity},
	{regexp.MustCompile(`^[DES]RX\d+$`), SRAExperiment, identity},
	{regexp.MustCompile(`^[DES]RR\d+$`), SRARun, identity},
	{regexp.MustCompile(`^[DES]RS\d+$`), SRASample, identity},
	{regexp.MustCompile(`^[DES]RZ\d+$`), SRAAnalysis, identity},
	{regexp.MustCompile(`^JGAS\d+$`), JGAStudy, identity},
	{regexp.MustCompile(`^JGAD\d+$`), JGADataset, identity},
	{regexp.MustCompile(`^JGAC\d+$`), JGADAC, identity},
	{regexp.MustCompile(`^JGAP\d+$`), JGAPolicy, identity},
	{regexp.MustCompile(`^E-GEAD-\d+$`), GEA, identity},
	{regexp.MustCompile(`^MTBKS\d+$`), MetaboBank, identity},
	{regexp.MustCompile(`^GCA_\d+(\.\d+)?$`), INSDCAssembly, identity}, // version is meaningful, preserved
	{regexp.MustCompile(`^[A-Z]{4,6}\d{8,}(\.\d+)?$`), INSDCMaster, stripVersionSuffix},
	{regexp.MustCompile(`^(?i)hum\d+$`), HumID, strings.ToLower},
	{regexp.MustCompile(`^GSE\d+$`), Geo, identity},
	{regexp.MustCompile(`^\d{7,8}$`), PubMedID, identity},
	{regexp.MustCompile(`^\d{1,7}$`), Taxonomy, identity},
}

// Classify maps a raw identifier to its AccessionType and normalized form,
// or returns a *errs.Error{Kind: KindValidation} carrying one of the three
// debug categories from spec.md §4.1. Classify never fails the pipeline;
// callers decide whether to skip or warn (spec.md §4.1).
func Classify(raw string) (Accession, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Accession{}, errs.E(errs.Op("accession.Classify"), errs.KindValidation, "empty accession").WithCategory(errs.CategoryInvalidAccession)
	}

	upper := strings.ToUpper(trimmed)

	for _, r := range rules {
		// Every shape but hum-id is upper-case by convention; hum-id is
		// matched case-insensitively but normalized to lower-case.
		candidate := upper
		if r.typ == HumID {
			candidate = trimmed
		}
		if r.pattern.MatchString(candidate) {
			return Accession{Type: r.typ, Value: r.normalize(candidate)}, nil
		}
	}

	category := errs.CategoryInvalidAccession
	switch {
	case strings.HasPrefix(upper, "SAM"):
		category = errs.CategoryInvalidBioSample
	case strings.HasPrefix(upper, "PRJ"):
		category = errs.CategoryInvalidBioProject
	}

	return Accession{}, errs.E(
		errs.Op("accession.Classify"),
		errs.KindValidation,
		fmt.Sprintf("unrecognized accession %q", raw),
	).WithCategory(category)
}

// MustClassify is for internal callers (tests, fixtures) certain the input
// is valid; it panics otherwise.
func MustClassify(raw string) Accession {
	a, err := Classify(raw)
	if err != nil {
		panic(err)
	}
	return a
}

