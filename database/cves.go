package database

import (
	"context"
	"fmt"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"

	"github.com/ortelius/cvefeed-backend/internal/search"
	"github.com/ortelius/cvefeed-backend/model"
)

const (
	ingestStatusKey     = "cve_ingest"
	commitCheckpointKey = "cve_commits"
)

// cveDocument is the stored shape of a CVE; the record identity doubles as
// the document key so that writes are keyed by identity.
type cveDocument struct {
	Key string `json:"_key"`
	model.CVE
}

func toDocuments(cves []model.CVE) []cveDocument {
	docs := make([]cveDocument, 0, len(cves))
	for _, c := range cves {
		docs = append(docs, cveDocument{Key: c.CveID, CVE: c})
	}
	return docs
}

// ArangoStore reads and writes CVE records in ArangoDB
type ArangoStore struct {
	db arangodb.Database
}

// NewArangoStore returns a store backed by conn
func NewArangoStore(conn DBConnection) *ArangoStore {
	return &ArangoStore{db: conn.Database}
}

// FindCVEs runs a compiled search plan
func (s *ArangoStore) FindCVEs(ctx context.Context, plan search.Plan, page search.Page) ([]model.CVE, error) {
	query, bindVars := BuildSearchQuery(plan, page)

	cursor, err := s.db.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	results := []model.CVE{}
	for cursor.HasMore() {
		var cve model.CVE
		if _, err := cursor.ReadDocument(ctx, &cve); err != nil {
			return nil, err
		}
		results = append(results, cve)
	}
	return results, nil
}

// GetCVE returns one record by identity, or nil when it is not stored
func (s *ArangoStore) GetCVE(ctx context.Context, id string) (*model.CVE, error) {
	query := `
		FOR doc IN cve
			FILTER doc._key == @key
			LIMIT 1
			RETURN UNSET(doc, "_key", "_id", "_rev")
	`
	cursor, err := s.db.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]interface{}{"key": id},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	if !cursor.HasMore() {
		return nil, nil
	}
	var cve model.CVE
	if _, err := cursor.ReadDocument(ctx, &cve); err != nil {
		return nil, err
	}
	return &cve, nil
}

// LatestDatePublic returns the newest stored date_public, or "" when the
// collection holds no dated records
func (s *ArangoStore) LatestDatePublic(ctx context.Context) (string, error) {
	query := `
		FOR doc IN cve
			FILTER doc.date_public != null
			SORT doc.date_public DESC
			LIMIT 1
			RETURN doc.date_public
	`
	cursor, err := s.db.Query(ctx, query, &arangodb.QueryOptions{})
	if err != nil {
		return "", err
	}
	defer cursor.Close()

	if !cursor.HasMore() {
		return "", nil
	}
	var latest string
	if _, err := cursor.ReadDocument(ctx, &latest); err != nil {
		return "", err
	}
	return latest, nil
}

// InsertCVEs writes new records. An identity that already exists is replaced
// rather than duplicated.
func (s *ArangoStore) InsertCVEs(ctx context.Context, cves []model.CVE) (inserted, replaced int, err error) {
	if len(cves) == 0 {
		return 0, 0, nil
	}

	query := `
		FOR doc IN @docs
			UPSERT { _key: doc._key }
			INSERT doc
			REPLACE doc
			IN cve
			RETURN OLD ? "replaced" : "inserted"
	`
	cursor, err := s.db.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]interface{}{"docs": toDocuments(cves)},
	})
	if err != nil {
		return 0, 0, err
	}
	defer cursor.Close()

	for cursor.HasMore() {
		var outcome string
		if _, err := cursor.ReadDocument(ctx, &outcome); err != nil {
			return inserted, replaced, err
		}
		if outcome == "replaced" {
			replaced++
		} else {
			inserted++
		}
	}
	return inserted, replaced, nil
}

// ReplaceCVEs replaces stored records by identity. Records with no stored
// counterpart are skipped; the return value counts the ones that matched.
func (s *ArangoStore) ReplaceCVEs(ctx context.Context, cves []model.CVE) (int, error) {
	if len(cves) == 0 {
		return 0, nil
	}

	query := `
		FOR doc IN @docs
			FOR c IN cve
				FILTER c._key == doc._key
				REPLACE c WITH doc IN cve
				RETURN doc._key
	`
	cursor, err := s.db.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]interface{}{"docs": toDocuments(cves)},
	})
	if err != nil {
		return 0, err
	}
	defer cursor.Close()

	matched := 0
	for cursor.HasMore() {
		var key string
		if _, err := cursor.ReadDocument(ctx, &key); err != nil {
			return matched, err
		}
		matched++
	}
	return matched, nil
}

// ingestStatusDocument is the metadata entry holding the last ingestion report
type ingestStatusDocument struct {
	Key          string             `json:"_key"`
	Type         string             `json:"type"`
	LastModified string             `json:"last_modified"`
	Report       model.IngestReport `json:"report"`
}

// SaveIngestReport records the latest ingestion report in the metadata collection
func (s *ArangoStore) SaveIngestReport(ctx context.Context, report model.IngestReport) error {
	query := `
		UPSERT { _key: @key }
		INSERT @doc
		REPLACE @doc
		IN metadata
	`
	doc := ingestStatusDocument{
		Key:          ingestStatusKey,
		Type:         "ingest_status",
		LastModified: time.Now().UTC().Format(time.RFC3339),
		Report:       report,
	}

	_, err := s.db.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]interface{}{"key": ingestStatusKey, "doc": doc},
	})
	if err != nil {
		return fmt.Errorf("failed to save ingest report: %w", err)
	}
	return nil
}

// LoadIngestReport returns the last saved ingestion report, or nil when none exists
func (s *ArangoStore) LoadIngestReport(ctx context.Context) (*model.IngestReport, error) {
	cursor, err := s.db.Query(ctx, `RETURN DOCUMENT("metadata", @key)`, &arangodb.QueryOptions{
		BindVars: map[string]interface{}{"key": ingestStatusKey},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var doc *ingestStatusDocument
	if _, err := cursor.ReadDocument(ctx, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return &doc.Report, nil
}

// checkpointDocument follows the metadata high-water mark convention
type checkpointDocument struct {
	Key          string `json:"_key"`
	LastModified string `json:"last_modified"`
	Type         string `json:"type"`
}

// LoadCommitCheckpoint returns the author time of the newest fully ingested
// feed commit, or the zero time when none is recorded
func (s *ArangoStore) LoadCommitCheckpoint(ctx context.Context) (time.Time, error) {
	cursor, err := s.db.Query(ctx, `RETURN DOCUMENT("metadata", @key)`, &arangodb.QueryOptions{
		BindVars: map[string]interface{}{"key": commitCheckpointKey},
	})
	if err != nil {
		return time.Time{}, err
	}
	defer cursor.Close()

	var doc *checkpointDocument
	if _, err := cursor.ReadDocument(ctx, &doc); err != nil {
		return time.Time{}, err
	}
	if doc == nil || doc.LastModified == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, doc.LastModified)
}

// SaveCommitCheckpoint records the newest fully ingested feed commit time
func (s *ArangoStore) SaveCommitCheckpoint(ctx context.Context, t time.Time) error {
	query := `
		UPSERT { _key: @key }
		INSERT { _key: @key, last_modified: @time, type: "commit_checkpoint" }
		UPDATE { last_modified: @time }
		IN metadata
	`
	bindVars := map[string]interface{}{
		"key":  commitCheckpointKey,
		"time": t.UTC().Format(time.RFC3339),
	}

	_, err := s.db.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	return err
}
