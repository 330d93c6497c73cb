// Package fetch implements the resumable, cursor-paginated retrieval pattern
// shared by all provider adapters. Concrete provider clients implement
// Connector; the Adapter owns pagination, rate limiting, hashing and
// continuation scheduling.
package fetch

import (
	"context"
	"encoding/json"

	"github.com/c360/tenantsync/entity"
)

// PageRequest asks a connector for one page of one entity type.
type PageRequest struct {
	EntityType entity.Type
	Cursor     string
	PageSize   int
}

// SourceRecord is one raw record as returned by a provider connector.
type SourceRecord struct {
	ExternalID string
	SiteID     string
	Raw        json.RawMessage
}

// PageResult is one page of provider records. HasMore with a non-empty
// NextCursor is the only combination that triggers a continuation job.
type PageResult struct {
	Records    []SourceRecord
	NextCursor string
	HasMore    bool
}

// Connector is the per-provider call contract. Implementations live outside
// the pipeline core; the adapter depends only on this shape.
type Connector interface {
	CheckHealth(ctx context.Context) bool
	Supports(t entity.Type) bool
	FetchPage(ctx context.Context, req PageRequest) (*PageResult, error)
}
