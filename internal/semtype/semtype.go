// Package semtype resolves UMLS semantic-type abbreviations (e.g. "dsyn")
// to their human-readable labels (e.g. "Disease or Syndrome").
package semtype

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Pair is a single (abbreviation, label) entry.
type Pair struct {
	Code  string
	Label string
}

// Map is an immutable semantic-type lookup table. The zero value is an
// empty map that resolves nothing. A Map is safe for concurrent use.
type Map struct {
	labels map[string]string
}

// New builds a Map from pairs. When a code appears more than once the last
// occurrence wins.
func New(pairs []Pair) Map {
	labels := make(map[string]string, len(pairs))
	for _, p := range pairs {
		labels[p.Code] = p.Label
	}
	return Map{labels: labels}
}

// FromMap copies m into a new Map.
func FromMap(m map[string]string) Map {
	labels := make(map[string]string, len(m))
	for k, v := range m {
		labels[k] = v
	}
	return Map{labels: labels}
}

// Lookup returns the label for code. An empty or unknown code reports
// ok == false; callers treat that as "no enrichment available".
func (m Map) Lookup(code string) (label string, ok bool) {
	if code == "" {
		return "", false
	}
	label, ok = m.labels[code]
	return label, ok
}

// Len returns the number of codes in the map.
func (m Map) Len() int {
	return len(m.labels)
}

// Codes returns all codes in sorted order.
func (m Map) Codes() []string {
	codes := make([]string, 0, len(m.labels))
	for c := range m.labels {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// Digest returns a hash of the map's contents. Maps with the same entries
// have the same digest regardless of how they were built.
func (m Map) Digest() string {
	h := sha256.New()
	for _, code := range m.Codes() {
		h.Write([]byte(code))
		h.Write([]byte{0})
		h.Write([]byte(m.labels[code]))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Read parses the UMLS SemanticTypes file format: one entry per line,
// pipe-delimited as "abbreviation|TUI|label". Only the first and third
// columns are used. Blank lines are ignored.
func Read(r io.Reader) (Map, error) {
	var pairs []Pair
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		cols := strings.Split(line, "|")
		if len(cols) < 3 {
			return Map{}, fmt.Errorf("semantic types line %d: expected 3 columns, got %d", lineNo, len(cols))
		}
		pairs = append(pairs, Pair{Code: cols[0], Label: cols[2]})
	}
	if err := sc.Err(); err != nil {
		return Map{}, fmt.Errorf("reading semantic types: %w", err)
	}
	return New(pairs), nil
}

// Load reads a semantic-type file from disk.
func Load(path string) (Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return Map{}, fmt.Errorf("open semantic types: %w", err)
	}
	defer f.Close()
	return Read(f)
}
