package bulkingest

// OperationSpec is the wire form of one batch operation. Reference pairs
// (parent_*, file_*, node_*) accept either a durable uuid or a temp_id.
type OperationSpec struct {
	Op     string `json:"op" yaml:"op"`
	TempID string `json:"temp_id,omitempty" yaml:"temp_id,omitempty"`

	// create_node / update_node
	Title        string `json:"title,omitempty" yaml:"title,omitempty"`
	PID          string `json:"pid,omitempty" yaml:"pid,omitempty"`
	ModelUUID    string `json:"model_uuid,omitempty" yaml:"model_uuid,omitempty"`
	ParentUUID   string `json:"parent_uuid,omitempty" yaml:"parent_uuid,omitempty"`
	ParentTempID string `json:"parent_temp_id,omitempty" yaml:"parent_temp_id,omitempty"`

	// create_file
	Filename string `json:"filename,omitempty" yaml:"filename,omitempty"`
	URI      string `json:"uri,omitempty" yaml:"uri,omitempty"`
	FileMime string `json:"filemime,omitempty" yaml:"filemime,omitempty"`

	// create_media
	Bundle        string `json:"bundle,omitempty" yaml:"bundle,omitempty"`
	Name          string `json:"name,omitempty" yaml:"name,omitempty"`
	MediaUseUUID  string `json:"media_use_uuid,omitempty" yaml:"media_use_uuid,omitempty"`
	FileUUID      string `json:"file_uuid,omitempty" yaml:"file_uuid,omitempty"`
	FileTempID    string `json:"file_temp_id,omitempty" yaml:"file_temp_id,omitempty"`
	NodeUUID      string `json:"node_uuid,omitempty" yaml:"node_uuid,omitempty"`
	NodeTempID    string `json:"node_temp_id,omitempty" yaml:"node_temp_id,omitempty"`
	RelationField string `json:"relation_field,omitempty" yaml:"relation_field,omitempty"`
}

// BatchDocument is the top-level wire form of a batch description.
type BatchDocument struct {
	Operations []OperationSpec `json:"operations" yaml:"operations"`
}

// Operation converts the wire form into its typed operation. Unrecognized
// kinds become *UnknownOperation.
func (s OperationSpec) Operation() Operation {
	switch OperationKind(s.Op) {
	case OperationCreateNode:
		return &CreateNode{ID: s.TempID, NodeFields: s.nodeFields()}
	case OperationUpdateNode:
		return &UpdateNode{ID: s.TempID, NodeFields: s.nodeFields()}
	case OperationCreateFile:
		return &CreateFile{
			ID:       s.TempID,
			Filename: s.Filename,
			URI:      s.URI,
			MimeType: s.FileMime,
		}
	case OperationCreateMedia:
		return &CreateMedia{
			ID:            s.TempID,
			Bundle:        s.Bundle,
			Name:          s.Name,
			MediaUseUUID:  s.MediaUseUUID,
			File:          Ref{UUID: s.FileUUID, TempID: s.FileTempID},
			Owner:         Ref{UUID: s.NodeUUID, TempID: s.NodeTempID},
			RelationField: s.RelationField,
		}
	default:
		return &UnknownOperation{RawKind: s.Op, ID: s.TempID}
	}
}

func (s OperationSpec) nodeFields() NodeFields {
	return NodeFields{
		Title:     s.Title,
		PID:       s.PID,
		ModelUUID: s.ModelUUID,
		Parent:    Ref{UUID: s.ParentUUID, TempID: s.ParentTempID},
	}
}

// Batch converts every wire operation, preserving order.
func (d *BatchDocument) Batch() *Batch {
	ops := make([]Operation, 0, len(d.Operations))
	for _, spec := range d.Operations {
		ops = append(ops, spec.Operation())
	}
	return &Batch{Operations: ops}
}
