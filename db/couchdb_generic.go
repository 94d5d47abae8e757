package db

import (
	"context"
	"fmt"
	"reflect"

	"github.com/go-kivik/kivik/v4"
	"github.com/google/uuid"
)

// CouchDBResponse mirrors the {ok, id, rev} shape CouchDB returns from a
// document write.
type CouchDBResponse struct {
	OK  bool   `json:"ok"`
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

// SaveGenericDocument stores any JSON-marshalable document, for callers
// outside the flow-process schema (user records, audit log entries)
// that don't warrant a dedicated typed method.
func (c *CouchDBService) SaveGenericDocument(doc interface{}) (*CouchDBResponse, error) {
	ctx := context.Background()

	id := docID(doc)
	if id == "" {
		id = uuid.NewString()
		setDocID(doc, id)
	}

	rev, err := c.database.Put(ctx, id, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to save document: %w", err)
	}

	return &CouchDBResponse{OK: true, ID: id, Rev: rev}, nil
}

// GetGenericDocument reads a document by id into result, which must be a
// pointer.
func (c *CouchDBService) GetGenericDocument(id string, result interface{}) error {
	ctx := context.Background()

	row := c.database.Get(ctx, id)
	if row.Err() != nil {
		if kivik.HTTPStatus(row.Err()) == 404 {
			return fmt.Errorf("document not found")
		}
		return fmt.Errorf("failed to get document: %w", row.Err())
	}

	if err := row.ScanDoc(result); err != nil {
		return fmt.Errorf("failed to scan document: %w", err)
	}
	return nil
}

// docID reads the "ID" field off a pointer-to-struct document via
// reflection, returning "" if the field is absent or the value isn't a
// struct pointer.
func docID(doc interface{}) string {
	v := reflect.ValueOf(doc)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return ""
	}
	f := v.Elem().FieldByName("ID")
	if !f.IsValid() || f.Kind() != reflect.String {
		return ""
	}
	return f.String()
}

// setDocID writes a generated id back into a document's exported ID
// field so the caller sees the assigned id after a create.
func setDocID(doc interface{}, id string) {
	v := reflect.ValueOf(doc)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return
	}
	f := v.Elem().FieldByName("ID")
	if f.IsValid() && f.CanSet() && f.Kind() == reflect.String {
		f.SetString(id)
	}
}
