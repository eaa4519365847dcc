// Package blacklist implements spec.md §4.6: in-memory blacklist sets
// loaded from per-source flat files, and the preserved-edge TSV loader
// consulted by dblink.Finalize when canonicalizing the relation graph.
package blacklist

import (
	"bufio"
	"iter"
	"os"
	"strings"

	"github.com/ddbj/dblink/internal/accession"
	"github.com/ddbj/dblink/internal/errs"
)

// Set holds one blacklist per source, matched case-sensitively against
// the raw accession (spec.md §4.6).
type Set struct {
	bySource map[string]map[string]struct{}
}

// Load reads one file per (source, path) pair. Missing files are treated
// as an empty set for that source rather than an error, since not every
// deployment carries every source's blacklist.
func Load(paths map[string]string) (*Set, error) {
	s := &Set{bySource: make(map[string]map[string]struct{}, len(paths))}
	for source, path := range paths {
		entries, err := loadFile(path)
		if err != nil {
			return nil, errs.E(errs.Op("blacklist.Load"), errs.KindResourceMissing, err)
		}
		s.bySource[source] = entries
	}
	return s, nil
}

func loadFile(path string) (map[string]struct{}, error) {
	entries := make(map[string]struct{})

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return entries, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries[line] = struct{}{}
	}
	return entries, scanner.Err()
}

// Contains reports whether raw is blacklisted under source.
func (s *Set) Contains(source, raw string) bool {
	if s == nil {
		return false
	}
	entries, ok := s.bySource[source]
	if !ok {
		return false
	}
	_, hit := entries[raw]
	return hit
}

// Entries returns every raw accession blacklisted under source, for the
// es-delete-blacklisted step that must issue a delete per entry rather
// than merely test membership.
func (s *Set) Entries(source string) []string {
	if s == nil {
		return nil
	}
	entries := s.bySource[source]
	out := make([]string, 0, len(entries))
	for raw := range entries {
		out = append(out, raw)
	}
	return out
}

// ContainsAny reports whether raw is blacklisted under any source, for
// callers (dblink.Finalize edge filtering) that don't track provenance.
func (s *Set) ContainsAny(raw string) bool {
	if s == nil {
		return false
	}
	for _, entries := range s.bySource {
		if _, hit := entries[raw]; hit {
			return true
		}
	}
	return false
}

// Edge is a preserved relation that must never be dropped during
// blacklist-driven or merge-collision pruning (spec.md §4.6 "Preserved").
type Edge struct {
	From accession.Accession
	To   accession.Accession
}

// LoadPreserved reads a header-bearing TSV of (from_id, to_id) pairs,
// classifying both sides. A pair is skipped (caller-logged DEBUG) when
// either side fails classification.
func LoadPreserved(path string, onSkip func(from, to string)) (iter.Seq[Edge], error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return func(yield func(Edge) bool) {}, nil
	}
	if err != nil {
		return nil, errs.E(errs.Op("blacklist.LoadPreserved"), errs.KindResourceMissing, err)
	}

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		f.Close()
		return func(yield func(Edge) bool) {}, nil
	}

	var edges []Edge
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		from, err1 := accession.Classify(fields[0])
		to, err2 := accession.Classify(fields[1])
		if err1 != nil || err2 != nil {
			if onSkip != nil {
				onSkip(fields[0], fields[1])
			}
			continue
		}
		edges = append(edges, Edge{From: from, To: to})
	}
	scanErr := scanner.Err()
	f.Close()
	if scanErr != nil {
		return nil, errs.E(errs.Op("blacklist.LoadPreserved"), errs.KindResourceMissing, scanErr)
	}

	return func(yield func(Edge) bool) {
		for _, e := range edges {
			if !yield(e) {
				return
			}
		}
	}, nil
}
