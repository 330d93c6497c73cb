package entity

// RelationshipType identifies the meaning of a directed edge between two
// entities. Each type declares which entity types are valid at its endpoints.
type RelationshipType string

// Relationship types derived by the linker stage.
const (
	RelMemberOf     RelationshipType = "member_of"     // group → identity
	RelHoldsLicense RelationshipType = "holds_license" // identity → license
	RelCoveredBy    RelationshipType = "covered_by"    // identity → policy
	RelOwnsDevice   RelationshipType = "owns_device"   // company → device
	RelBelongsTo    RelationshipType = "belongs_to"    // identity → company
)

// endpointRule declares the valid parent/child entity types for an edge type.
type endpointRule struct {
	parent Type
	child  Type
}

var endpointRules = map[RelationshipType]endpointRule{
	RelMemberOf:     {parent: TypeGroup, child: TypeIdentity},
	RelHoldsLicense: {parent: TypeIdentity, child: TypeLicense},
	RelCoveredBy:    {parent: TypeIdentity, child: TypePolicy},
	RelOwnsDevice:   {parent: TypeCompany, child: TypeDevice},
	RelBelongsTo:    {parent: TypeIdentity, child: TypeCompany},
}

// ValidEndpoints reports whether an edge of this type may connect a parent of
// type parent to a child of type child.
func (rt RelationshipType) ValidEndpoints(parent, child Type) bool {
	rule, ok := endpointRules[rt]
	if !ok {
		return false
	}
	return rule.parent == parent && rule.child == child
}

// Relationship is a directed edge between two entities, scoped to one data
// source. Created by the linker stage; read-only everywhere else.
type Relationship struct {
	TenantID     string           `json:"tenant_id"`
	DataSourceID string           `json:"data_source_id"`
	ParentID     string           `json:"parent_entity_id"`
	ChildID      string           `json:"child_entity_id"`
	Type         RelationshipType `json:"relationship_type"`
	Metadata     map[string]any   `json:"metadata,omitempty"`
}
