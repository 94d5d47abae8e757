// Package docstore is the document-store adapter (A5): a thin wrapper
// around Kivik's CouchDB driver exposing put/get/delete/find primitives.
// internal/flow uses them for the flows and flow_versions collections;
// the service_registry and audit_logs databases are created at startup,
// but no code writes to them through this package.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"

	kivik "github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/evalgo/flowcollab/internal/apierr"
)

// Store holds one Kivik client and lazily-opened database handles, one per
// collection, mirroring the teacher's one-handle-per-database pattern
// generalized to several named collections instead of one.
type Store struct {
	client *kivik.Client
	dbs    map[string]*kivik.DB
}

// Collections recognized by the system.
const (
	CollectionFlows           = "flows"
	CollectionFlowVersions    = "flow_versions"
	CollectionServiceRegistry = "service_registry"
	CollectionAuditLogs       = "audit_logs"
)

var allCollections = []string{
	CollectionFlows,
	CollectionFlowVersions,
	CollectionServiceRegistry,
	CollectionAuditLogs,
}

// New connects to the CouchDB-compatible server at url and ensures every
// recognized collection's database exists.
func New(ctx context.Context, url string) (*Store, error) {
	client, err := kivik.New("couch", url)
	if err != nil {
		return nil, fmt.Errorf("docstore: connect: %w", err)
	}

	s := &Store{client: client, dbs: make(map[string]*kivik.DB)}
	for _, name := range allCollections {
		db, err := s.ensureDB(ctx, name)
		if err != nil {
			return nil, err
		}
		s.dbs[name] = db
	}
	return s, nil
}

func (s *Store) ensureDB(ctx context.Context, name string) (*kivik.DB, error) {
	exists, err := s.client.DBExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("docstore: check %s exists: %w", name, err)
	}
	if !exists {
		if err := s.client.CreateDB(ctx, name); err != nil {
			return nil, fmt.Errorf("docstore: create %s: %w", name, err)
		}
	}
	return s.client.DB(name), nil
}

func (s *Store) db(collection string) *kivik.DB {
	return s.dbs[collection]
}

// Put inserts or updates doc (which must carry an "_id" field, and an
// "_rev" field when updating) and returns the new revision.
func (s *Store) Put(ctx context.Context, collection, id string, doc interface{}) (rev string, err error) {
	rev, err = s.db(collection).Put(ctx, id, doc)
	if err != nil {
		return "", apierr.Wrap(apierr.ServiceUnavailable, "document store write failed", err)
	}
	return rev, nil
}

// Get fetches the document with id into out. Returns apierr NotFound when
// absent.
func (s *Store) Get(ctx context.Context, collection, id string, out interface{}) error {
	row := s.db(collection).Get(ctx, id)
	if err := row.ScanDoc(out); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return apierr.New(apierr.NotFound, "document not found")
		}
		return apierr.Wrap(apierr.ServiceUnavailable, "document store read failed", err)
	}
	return nil
}

// CurrentRev returns just the revision of id, for building an update.
func (s *Store) CurrentRev(ctx context.Context, collection, id string) (string, error) {
	rev, err := s.db(collection).GetRev(ctx, id)
	if err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return "", apierr.New(apierr.NotFound, "document not found")
		}
		return "", apierr.Wrap(apierr.ServiceUnavailable, "document store read failed", err)
	}
	return rev, nil
}

// Delete removes id at rev.
func (s *Store) Delete(ctx context.Context, collection, id, rev string) error {
	if _, err := s.db(collection).Delete(ctx, id, rev); err != nil {
		return apierr.Wrap(apierr.ServiceUnavailable, "document store delete failed", err)
	}
	return nil
}

// Find runs a Mango selector query against collection, decoding each
// matched row into a fresh element appended via the decode callback.
func (s *Store) Find(ctx context.Context, collection string, selector map[string]interface{}, decode func(scan func(interface{}) error) error) error {
	query, err := json.Marshal(map[string]interface{}{"selector": selector})
	if err != nil {
		return err
	}

	rows := s.db(collection).Find(ctx, json.RawMessage(query))
	defer rows.Close()

	for rows.Next() {
		if err := decode(rows.ScanDoc); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Close releases the Kivik client's connections.
func (s *Store) Close() error {
	return s.client.Close()
}
