package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/efebarandurmaz/semmed/internal/config"
	"github.com/efebarandurmaz/semmed/internal/predication"
)

var schemaStatements = []string{
	`CREATE CONSTRAINT concept_umls_unique IF NOT EXISTS FOR (c:Concept) REQUIRE c.umls IS UNIQUE`,
	`CREATE CONSTRAINT gene_ncbigene_unique IF NOT EXISTS FOR (g:Gene) REQUIRE g.ncbigene IS UNIQUE`,
	`CREATE INDEX predication_id IF NOT EXISTS FOR ()-[r:PREDICATION]-() ON (r.id)`,
}

// Neo4j stores each document as a PREDICATION relationship between its
// subject and object nodes.
type Neo4j struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

// NewNeo4j connects to the graph and creates the node constraints.
func NewNeo4j(ctx context.Context, cfg config.GraphConfig, logger *slog.Logger) (*Neo4j, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j sink: graph.uri is required")
	}
	timeout := time.Duration(cfg.ConnectTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""), func(c *neo4j.Config) {
		if cfg.MaxPoolSize > 0 {
			c.MaxConnectionPoolSize = cfg.MaxPoolSize
		}
		c.SocketConnectTimeout = timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}

	s := &Neo4j{driver: driver, database: cfg.Database, logger: logger.With("sink", "neo4j")}
	if err := s.ensureSchema(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Neo4j) session(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
}

func (s *Neo4j) ensureSchema(ctx context.Context) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	for _, q := range schemaStatements {
		res, err := session.Run(ctx, q, nil)
		if err != nil {
			return fmt.Errorf("neo4j schema: %w", err)
		}
		if _, err := res.Consume(ctx); err != nil {
			return fmt.Errorf("neo4j schema: %w", err)
		}
	}
	return nil
}

// Write merges the batch in one transaction, one UNWIND statement per
// subject/object label combination.
func (s *Neo4j) Write(ctx context.Context, docs []predication.Document) error {
	if len(docs) == 0 {
		return nil
	}
	groups := groupByLabels(docs)

	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, g := range groups {
			res, err := tx.Run(ctx, mergeQuery(g.subject, g.object), map[string]any{"rows": g.rows})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("store %d predications: %w", len(docs), err)
	}
	s.logger.Debug("Batch merged", "documents", len(docs), "statements", len(groups))
	return nil
}

func (s *Neo4j) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

var _ Sink = (*Neo4j)(nil)

// label returns the node label for a namespace.
func label(ns predication.Namespace) string {
	if ns == predication.Gene {
		return "Gene"
	}
	return "Concept"
}

// mergeQuery builds the UNWIND statement for one label combination. Labels
// and key properties cannot be parameters, so they are spliced in from the
// closed Namespace set.
func mergeQuery(subject, object predication.Namespace) string {
	return fmt.Sprintf(`
UNWIND $rows AS row
MERGE (s:%s {%s: row.subject.id})
SET s.name = row.subject.name,
    s.semantic_type_abbreviation = row.subject.semantic_type_abbreviation,
    s.semantic_type_name = row.subject.semantic_type_name
MERGE (o:%s {%s: row.object.id})
SET o.name = row.object.name,
    o.semantic_type_abbreviation = row.object.semantic_type_abbreviation,
    o.semantic_type_name = row.object.semantic_type_name
MERGE (s)-[r:PREDICATION {id: row.id}]->(o)
SET r.predicate = row.predicate,
    r.predication_id = row.predication_id,
    r.pmid = row.pmid,
    r.subject_novelty = row.subject.novelty,
    r.object_novelty = row.object.novelty
`, label(subject), subject.Field(), label(object), object.Field())
}

type labelGroup struct {
	subject predication.Namespace
	object  predication.Namespace
	rows    []map[string]any
}

// groupByLabels splits docs by label combination, keeping first-seen group
// order and input order within each group.
func groupByLabels(docs []predication.Document) []*labelGroup {
	var groups []*labelGroup
	index := map[[2]predication.Namespace]*labelGroup{}
	for i := range docs {
		d := &docs[i]
		key := [2]predication.Namespace{d.Subject.Namespace, d.Object.Namespace}
		g, ok := index[key]
		if !ok {
			g = &labelGroup{subject: key[0], object: key[1]}
			index[key] = g
			groups = append(groups, g)
		}
		g.rows = append(g.rows, documentParams(d))
	}
	return groups
}

func documentParams(d *predication.Document) map[string]any {
	var pmid any = d.PMID.String()
	if n, err := d.PMID.Int64(); err == nil {
		pmid = n
	}
	return map[string]any{
		"id":             d.ID,
		"predicate":      d.Predicate,
		"predication_id": d.PredicationID,
		"pmid":           pmid,
		"subject":        roleParams(&d.Subject),
		"object":         roleParams(&d.Object),
	}
}

func roleParams(r *predication.Role) map[string]any {
	p := map[string]any{
		"id":                         r.ID,
		"name":                       r.Name,
		"semantic_type_abbreviation": r.SemType,
		"semantic_type_name":         nil,
		"novelty":                    nil,
	}
	if r.SemTypeName != nil {
		p["semantic_type_name"] = *r.SemTypeName
	}
	if r.Novelty != nil {
		p["novelty"] = int64(*r.Novelty)
	}
	return p
}
