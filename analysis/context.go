// Package analysis loads the relationship graph for one tenant/data-source
// pair in a fixed number of bulk queries, runs the analyzer set over it in
// parallel and merges the results into one consistent batch of tag, state and
// finding outputs.
package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/c360/tenantsync/entity"
	"github.com/c360/tenantsync/errors"
	"github.com/c360/tenantsync/store"
)

// Context is the read-only graph snapshot every analyzer operates on. It is
// built once per pass from two bulk queries and indexed in memory; analyzers
// never touch the store.
type Context struct {
	TenantID     string
	DataSourceID string
	Now          time.Time

	byID             map[string]*entity.Entity
	byType           map[entity.Type][]*entity.Entity
	childrenByParent map[string][]*entity.Relationship
	parentsByChild   map[string][]*entity.Relationship
}

// LoadContext builds the analysis context for one tenant/data-source pair.
// Edges whose endpoints are missing or whose relationship type is invalid for
// the endpoint entity types are dropped, so graph traversals below never
// return a structurally invalid edge.
func LoadContext(ctx context.Context, s store.Store, tenantID, dataSourceID string) (*Context, error) {
	entities, err := s.ListEntities(ctx, tenantID, dataSourceID)
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrStorageUnavailable, err),
			"analysis", "LoadContext", "list entities")
	}
	relationships, err := s.ListRelationships(ctx, tenantID, dataSourceID)
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrStorageUnavailable, err),
			"analysis", "LoadContext", "list relationships")
	}

	ac := &Context{
		TenantID:         tenantID,
		DataSourceID:     dataSourceID,
		Now:              time.Now().UTC(),
		byID:             make(map[string]*entity.Entity, len(entities)),
		byType:           make(map[entity.Type][]*entity.Entity),
		childrenByParent: make(map[string][]*entity.Relationship),
		parentsByChild:   make(map[string][]*entity.Relationship),
	}
	for _, e := range entities {
		ac.byID[e.ID] = e
		ac.byType[e.Key.Type] = append(ac.byType[e.Key.Type], e)
	}
	for _, r := range relationships {
		parent, parentOK := ac.byID[r.ParentID]
		child, childOK := ac.byID[r.ChildID]
		if !parentOK || !childOK {
			continue
		}
		if !r.Type.ValidEndpoints(parent.Key.Type, child.Key.Type) {
			continue
		}
		ac.childrenByParent[r.ParentID] = append(ac.childrenByParent[r.ParentID], r)
		ac.parentsByChild[r.ChildID] = append(ac.parentsByChild[r.ChildID], r)
	}
	return ac, nil
}

// Entity returns one entity by ID, or nil.
func (c *Context) Entity(id string) *entity.Entity {
	return c.byID[id]
}

// EntitiesOfType returns all entities of one type.
func (c *Context) EntitiesOfType(t entity.Type) []*entity.Entity {
	return c.byType[t]
}

// Relationships returns the edges where the entity is the parent, optionally
// filtered by relationship type.
func (c *Context) Relationships(entityID string, types ...entity.RelationshipType) []*entity.Relationship {
	return filterEdges(c.childrenByParent[entityID], types)
}

// ParentRelationships returns the edges where the entity is the child,
// optionally filtered by relationship type.
func (c *Context) ParentRelationships(entityID string, types ...entity.RelationshipType) []*entity.Relationship {
	return filterEdges(c.parentsByChild[entityID], types)
}

// ChildEntities returns the entities connected below a parent, optionally
// filtered by relationship type.
func (c *Context) ChildEntities(parentID string, types ...entity.RelationshipType) []*entity.Entity {
	var out []*entity.Entity
	for _, r := range filterEdges(c.childrenByParent[parentID], types) {
		if e := c.byID[r.ChildID]; e != nil {
			out = append(out, e)
		}
	}
	return out
}

// ParentEntity returns the first parent connected via the given relationship
// type, or nil.
func (c *Context) ParentEntity(childID string, rt entity.RelationshipType) *entity.Entity {
	for _, r := range c.parentsByChild[childID] {
		if r.Type == rt {
			return c.byID[r.ParentID]
		}
	}
	return nil
}

func filterEdges(edges []*entity.Relationship, types []entity.RelationshipType) []*entity.Relationship {
	if len(types) == 0 {
		return edges
	}
	var out []*entity.Relationship
	for _, r := range edges {
		for _, t := range types {
			if r.Type == t {
				out = append(out, r)
				break
			}
		}
	}
	return out
}
