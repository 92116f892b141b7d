// Package predication turns SemMedDB PREDICATION rows into index documents.
//
// A row names a subject, a predicate and an object. Subject and object
// identifier fields may hold several pipe-separated values, and may refer
// either to UMLS concepts ("C0004238") or to NCBI gene ids ("1956"). The
// transformer classifies each side, expands multi-valued gene fields into
// one document per combination and attaches resolved semantic-type labels.
package predication

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrMissingField is returned by Row.Validate when a required field is empty
	// or malformed.
	ErrMissingField = errors.New("missing required field")

	// ErrCardinalityMismatch is returned when an identifier field and its name
	// field split into a different number of values.
	ErrCardinalityMismatch = errors.New("identifier/name cardinality mismatch")
)

// Argument is one side (subject or object) of a predication row.
type Argument struct {
	// CUI holds one or more "|"-separated concept or gene identifiers.
	CUI string
	// Name holds the preferred names, parallel to CUI.
	Name string
	// SemType is the semantic-type abbreviation. May be empty.
	SemType string
	// Novelty is nil when the source value is absent.
	Novelty *int8
}

// Row is one record of the PREDICATION table.
type Row struct {
	PredicationID string
	PMID          string
	Predicate     string
	Subject       Argument
	Object        Argument
}

// Validate checks that all required fields are present. Rows are validated
// where they are constructed so the transformer never sees a partial row.
func (r Row) Validate() error {
	switch {
	case r.PredicationID == "":
		return fmt.Errorf("%w: PREDICATION_ID", ErrMissingField)
	case r.PMID == "":
		return fmt.Errorf("%w: PMID", ErrMissingField)
	case r.Predicate == "":
		return fmt.Errorf("%w: PREDICATE", ErrMissingField)
	case r.Subject.CUI == "":
		return fmt.Errorf("%w: SUBJECT_CUI", ErrMissingField)
	case r.Subject.Name == "":
		return fmt.Errorf("%w: SUBJECT_NAME", ErrMissingField)
	case r.Object.CUI == "":
		return fmt.Errorf("%w: OBJECT_CUI", ErrMissingField)
	case r.Object.Name == "":
		return fmt.Errorf("%w: OBJECT_NAME", ErrMissingField)
	}
	if _, err := strconv.ParseUint(r.PMID, 10, 32); err != nil {
		return fmt.Errorf("%w: PMID %q is not a PubMed id", ErrMissingField, r.PMID)
	}
	return nil
}
