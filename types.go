package bulkingest

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EntityType identifies the storage type of a record.
type EntityType string

const (
	EntityTypeNode         EntityType = "node"
	EntityTypeFile         EntityType = "file"
	EntityTypeMedia        EntityType = "media"
	EntityTypeTaxonomyTerm EntityType = "taxonomy_term"
)

// Revisionable reports whether records of this type keep revision history.
func (t EntityType) Revisionable() bool {
	return t == EntityTypeNode
}

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityTypeNode, EntityTypeFile, EntityTypeMedia, EntityTypeTaxonomyTerm:
		return true
	}
	return false
}

// Field names written by the operation executor.
const (
	FieldTitle    = "title"
	FieldPID      = "field_pid"
	FieldModel    = "field_model"
	FieldMemberOf = "field_member_of"
	FieldFilename = "filename"
	FieldURI      = "uri"
	FieldFileMime = "filemime"
	FieldStatus   = "status"
	FieldName     = "name"
	FieldMediaUse = "field_media_use"
	FieldMediaOf  = "field_media_of"
)

// FileStatusPermanent marks a file record that must not be garbage collected.
const FileStatusPermanent = 1

// Fields holds the attribute values of a record.
type Fields map[string]any

// Clone returns a shallow copy of the field map.
func (f Fields) Clone() Fields {
	if f == nil {
		return Fields{}
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// EntityReference is the value stored in a reference-valued field.
type EntityReference struct {
	TargetID int64 `json:"target_id" yaml:"target_id"`
}

// TargetID extracts the referenced id from a field value. Values loaded from
// JSON storage arrive as generic maps, so both shapes are accepted.
func TargetID(value any) (int64, bool) {
	switch v := value.(type) {
	case EntityReference:
		return v.TargetID, true
	case *EntityReference:
		if v == nil {
			return 0, false
		}
		return v.TargetID, true
	case map[string]any:
		switch id := v["target_id"].(type) {
		case float64:
			return int64(id), true
		case int64:
			return id, true
		case int:
			return int64(id), true
		case json.Number:
			n, err := id.Int64()
			return n, err == nil
		}
	}
	return 0, false
}

// Entity is a persisted record as seen through the EntityRepository.
type Entity struct {
	ID         int64      `json:"id"`
	UUID       uuid.UUID  `json:"uuid"`
	Type       EntityType `json:"type"`
	Bundle     string     `json:"bundle,omitempty"`
	RevisionID *int64     `json:"vid,omitempty"`
	Fields     Fields     `json:"fields"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// OperationKind is the discriminant of a batch operation.
type OperationKind string

const (
	OperationCreateNode  OperationKind = "create_node"
	OperationUpdateNode  OperationKind = "update_node"
	OperationCreateFile  OperationKind = "create_file"
	OperationCreateMedia OperationKind = "create_media"
)

// OperationKinds lists the recognized kinds in report order.
var OperationKinds = []OperationKind{
	OperationCreateNode,
	OperationUpdateNode,
	OperationCreateFile,
	OperationCreateMedia,
}

// Known reports whether k is a recognized operation kind.
func (k OperationKind) Known() bool {
	switch k {
	case OperationCreateNode, OperationUpdateNode, OperationCreateFile, OperationCreateMedia:
		return true
	}
	return false
}

// Operation is one entry of a batch description.
type Operation interface {
	Kind() OperationKind
	TempID() string
}

// Ref points at a record either by durable uuid or by a batch temp_id.
type Ref struct {
	UUID   string `json:"uuid,omitempty"`
	TempID string `json:"tempId,omitempty"`
}

// IsZero reports whether neither side of the reference is set.
func (r Ref) IsZero() bool {
	return r.UUID == "" && r.TempID == ""
}

// Ambiguous reports whether both a uuid and a temp_id were given.
func (r Ref) Ambiguous() bool {
	return r.UUID != "" && r.TempID != ""
}

// NodeFields are the attributes shared by node create and update operations.
type NodeFields struct {
	Title     string
	PID       string
	ModelUUID string
	Parent    Ref
}

// CreateNode creates a repository object node.
type CreateNode struct {
	ID string
	NodeFields
}

func (o *CreateNode) Kind() OperationKind { return OperationCreateNode }
func (o *CreateNode) TempID() string      { return o.ID }

// UpdateNode writes a new revision of a node created earlier in the batch.
type UpdateNode struct {
	ID string
	NodeFields
}

func (o *UpdateNode) Kind() OperationKind { return OperationUpdateNode }
func (o *UpdateNode) TempID() string      { return o.ID }

// CreateFile registers a permanent file record.
type CreateFile struct {
	ID       string
	Filename string
	URI      string
	MimeType string
}

func (o *CreateFile) Kind() OperationKind { return OperationCreateFile }
func (o *CreateFile) TempID() string      { return o.ID }

// CreateMedia creates a media record linking a file to its owning node.
type CreateMedia struct {
	ID            string
	Bundle        string
	Name          string
	MediaUseUUID  string
	File          Ref
	Owner         Ref
	RelationField string
}

func (o *CreateMedia) Kind() OperationKind { return OperationCreateMedia }
func (o *CreateMedia) TempID() string      { return o.ID }

// UnknownOperation carries an entry whose kind is not recognized. It fails at
// execution time rather than at decode time so the rest of the batch still runs.
type UnknownOperation struct {
	RawKind string
	ID      string
}

func (o *UnknownOperation) Kind() OperationKind { return OperationKind(o.RawKind) }
func (o *UnknownOperation) TempID() string      { return o.ID }

// Batch is a decoded batch description.
type Batch struct {
	Operations []Operation
}
