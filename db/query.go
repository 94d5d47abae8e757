package db

import (
	"context"
	"fmt"
)

// QueryBuilder assembles a CouchDB Mango selector incrementally, the way
// auth's CouchDBUserStore composes its lookups (users by username, expired
// refresh tokens) without hand-building a selector map at every call site.
type QueryBuilder struct {
	selector map[string]interface{}
	limit    int
	skip     int
}

// NewQueryBuilder starts an empty selector.
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{selector: make(map[string]interface{})}
}

// Where adds one field/operator/value clause (e.g. Where("email", "$eq", addr)).
// Clauses accumulate conjunctively; see And.
func (qb *QueryBuilder) Where(field, op string, value interface{}) *QueryBuilder {
	qb.selector[field] = map[string]interface{}{op: value}
	return qb
}

// And is a fluent connective for call-site readability: every clause
// added through Where is already part of the same conjunctive selector,
// so And just returns the receiver.
func (qb *QueryBuilder) And() *QueryBuilder {
	return qb
}

// Limit caps the number of matching documents returned.
func (qb *QueryBuilder) Limit(n int) *QueryBuilder {
	qb.limit = n
	return qb
}

// Skip offsets into the matching document set, for simple pagination.
func (qb *QueryBuilder) Skip(n int) *QueryBuilder {
	qb.skip = n
	return qb
}

// Build produces the Mango query document Kivik's Find expects.
func (qb *QueryBuilder) Build() map[string]interface{} {
	query := map[string]interface{}{"selector": qb.selector}
	if qb.limit > 0 {
		query["limit"] = qb.limit
	}
	if qb.skip > 0 {
		query["skip"] = qb.skip
	}
	return query
}

// FindTyped runs a Mango query against service's database and decodes
// every matching row into T.
func FindTyped[T any](service *CouchDBService, query interface{}) ([]T, error) {
	ctx := context.Background()

	rows := service.database.Find(ctx, query)
	defer rows.Close()

	var results []T
	for rows.Next() {
		var item T
		if err := rows.ScanDoc(&item); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		results = append(results, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	return results, nil
}
