package predication

import (
	"encoding/json"
	"fmt"
)

// Document is one normalized subject-predicate-object assertion, ready to
// be indexed. Documents are never mutated after Transform returns them.
type Document struct {
	ID            string      `json:"_id"`
	Predicate     string      `json:"predicate"`
	PredicationID string      `json:"predication_id"`
	PMID          json.Number `json:"pmid"`
	Subject       Role        `json:"subject"`
	Object        Role        `json:"object"`
}

// Role is the subject or object of a Document.
type Role struct {
	Namespace Namespace
	ID        string
	Name      string
	SemType   string
	// SemTypeName is nil when the semantic type could not be resolved; the
	// key is then left out of the JSON encoding entirely.
	SemTypeName *string
	Novelty     *int8
}

// HasSemTypeName reports whether a resolved semantic-type label is attached.
func (r Role) HasSemTypeName() bool {
	return r.SemTypeName != nil
}

type roleFields struct {
	Name        string  `json:"name"`
	SemType     string  `json:"semantic_type_abbreviation"`
	SemTypeName *string `json:"semantic_type_name,omitempty"`
	Novelty     *int8   `json:"novelty"`
}

type conceptRole struct {
	UMLS string `json:"umls"`
	roleFields
}

type geneRole struct {
	NCBIGene string `json:"ncbigene"`
	roleFields
}

// MarshalJSON writes the identifier under its namespace key ("umls" or
// "ncbigene") followed by the remaining role fields.
func (r Role) MarshalJSON() ([]byte, error) {
	fields := roleFields{
		Name:        r.Name,
		SemType:     r.SemType,
		SemTypeName: r.SemTypeName,
		Novelty:     r.Novelty,
	}
	switch r.Namespace {
	case Concept:
		return json.Marshal(conceptRole{UMLS: r.ID, roleFields: fields})
	case Gene:
		return json.Marshal(geneRole{NCBIGene: r.ID, roleFields: fields})
	default:
		return nil, fmt.Errorf("marshal role: unknown %s", r.Namespace)
	}
}

// UnmarshalJSON restores a Role written by MarshalJSON.
func (r *Role) UnmarshalJSON(data []byte) error {
	var raw struct {
		UMLS     *string `json:"umls"`
		NCBIGene *string `json:"ncbigene"`
		roleFields
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	role := Role{
		Name:        raw.Name,
		SemType:     raw.SemType,
		SemTypeName: raw.SemTypeName,
		Novelty:     raw.Novelty,
	}
	switch {
	case raw.UMLS != nil && raw.NCBIGene == nil:
		role.Namespace, role.ID = Concept, *raw.UMLS
	case raw.NCBIGene != nil && raw.UMLS == nil:
		role.Namespace, role.ID = Gene, *raw.NCBIGene
	default:
		return fmt.Errorf("unmarshal role: expected exactly one of umls or ncbigene")
	}
	*r = role
	return nil
}
