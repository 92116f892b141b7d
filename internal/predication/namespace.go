package predication

import (
	"fmt"
	"strings"
)

const (
	// ConceptMarker prefixes every UMLS concept identifier.
	ConceptMarker = "C"
	// Delimiter separates values in multi-valued identifier and name fields.
	Delimiter = "|"
)

// Namespace identifies what kind of identifier a role carries.
type Namespace int

const (
	// Concept is a UMLS concept (CUI).
	Concept Namespace = iota
	// Gene is an NCBI gene id.
	Gene
)

func (n Namespace) String() string {
	switch n {
	case Concept:
		return "concept"
	case Gene:
		return "gene"
	default:
		return fmt.Sprintf("namespace(%d)", int(n))
	}
}

// Field is the document key the identifier is stored under.
func (n Namespace) Field() string {
	if n == Gene {
		return "ncbigene"
	}
	return "umls"
}

// Classify inspects the raw, un-split identifier field. A field with no
// concept marker anywhere holds only gene ids.
func Classify(raw string) Namespace {
	if !strings.Contains(raw, ConceptMarker) {
		return Gene
	}
	return Concept
}

// IsValidObjectCUI reports whether an object identifier field is usable.
// A handful of source rows carry tokens like "1|medd" or "235|Patients"
// where the CUI should be; those rows are dropped.
func IsValidObjectCUI(raw string) bool {
	return strings.HasPrefix(strings.TrimSpace(raw), ConceptMarker)
}

// entity is one (identifier, name) pair taken from an argument.
type entity struct {
	id   string
	name string
}

// entities splits an argument into its (identifier, name) pairs. Gene
// fields keep every value; multi-valued concept fields keep only the first.
func entities(arg Argument) ([]entity, Namespace, error) {
	ids := strings.Split(arg.CUI, Delimiter)
	names := strings.Split(arg.Name, Delimiter)
	if len(ids) != len(names) {
		return nil, 0, fmt.Errorf("%w: %d ids, %d names", ErrCardinalityMismatch, len(ids), len(names))
	}

	ns := Classify(arg.CUI)
	if ns == Concept && len(ids) > 1 {
		ids, names = ids[:1], names[:1]
	}

	out := make([]entity, len(ids))
	for i := range ids {
		out[i] = entity{id: ids[i], name: names[i]}
	}
	return out, ns, nil
}
