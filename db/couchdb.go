// Package db provides the CouchDB-backed document store used by the
// standalone auth package: connection lifecycle and generic document
// CRUD for user records, refresh tokens and audit log entries. It is
// deliberately thin — the flow manager's own document store
// (internal/docstore) speaks Kivik directly for flows and version
// snapshots, which have a richer, collab-specific shape than anything
// this package needs to know about.
package db

import (
	"context"
	"fmt"

	kivik "github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb" // The CouchDB driver

	eve "github.com/evalgo/flowcollab/common"
)

// CouchDBService encapsulates CouchDB client functionality for the auth
// package's user/token/audit storage.
type CouchDBService struct {
	client   *kivik.Client // CouchDB client connection
	database *kivik.DB     // Active database handle
	dbName   string        // Database name for operations
}

// NewCouchDBService connects to CouchDB and ensures the configured
// database exists, creating it if necessary.
func NewCouchDBService(config eve.FlowConfig) (*CouchDBService, error) {
	client, err := kivik.New("couch", config.CouchDBURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to CouchDB: %w", err)
	}

	ctx := context.Background()

	exists, err := client.DBExists(ctx, config.DatabaseName)
	if err != nil {
		return nil, fmt.Errorf("failed to check if database exists: %w", err)
	}

	if !exists {
		if err := client.CreateDB(ctx, config.DatabaseName); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	return &CouchDBService{
		client:   client,
		database: client.DB(config.DatabaseName),
		dbName:   config.DatabaseName,
	}, nil
}

// DeleteDocument removes a document by id and revision. Generic by
// signature: it is used for user records, refresh tokens and anything
// else SaveGenericDocument wrote, not just one document shape.
func (c *CouchDBService) DeleteDocument(id, rev string) error {
	ctx := context.Background()

	if _, err := c.database.Delete(ctx, id, rev); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	return nil
}

// Close releases the underlying CouchDB connection.
func (c *CouchDBService) Close() error {
	return c.client.Close()
}
