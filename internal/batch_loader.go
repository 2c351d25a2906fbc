package internal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/lychee-technology/bulkingest"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// StdinSource reads the batch description from standard input.
const StdinSource = "-"

// BatchFormat is the encoding of a batch description.
type BatchFormat string

const (
	BatchFormatAuto BatchFormat = ""
	BatchFormatJSON BatchFormat = "json"
	BatchFormatYAML BatchFormat = "yaml"
)

// operationStringFields are the wire fields of an operation; all are strings.
// Numeric scalars (temp_id: 001) are read as their literal text before the
// envelope is validated.
var operationStringFields = []string{
	"op", "temp_id",
	"title", "pid", "model_uuid", "parent_uuid", "parent_temp_id",
	"filename", "uri", "filemime",
	"bundle", "name", "media_use_uuid", "file_uuid", "file_temp_id", "node_uuid", "node_temp_id", "relation_field",
}

// BatchLoader reads and decodes batch descriptions. Every error it returns is fatal.
type BatchLoader struct {
	maxOperations int
	stdin         io.Reader
	envelope      *jsonschema.Resolved
}

// NewBatchLoader creates a loader. maxOperations <= 0 means no limit.
func NewBatchLoader(maxOperations int) (*BatchLoader, error) {
	resolved, err := envelopeSchema().Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve batch envelope schema: %w", err)
	}
	return &BatchLoader{
		maxOperations: maxOperations,
		stdin:         os.Stdin,
		envelope:      resolved,
	}, nil
}

func envelopeSchema() *jsonschema.Schema {
	props := make(map[string]*jsonschema.Schema, len(operationStringFields))
	for _, name := range operationStringFields {
		props[name] = &jsonschema.Schema{Type: "string"}
	}
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"operations"},
		Properties: map[string]*jsonschema.Schema{
			"operations": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type:       "object",
					Required:   []string{"op"},
					Properties: props,
				},
			},
		},
	}
}

// Load reads the batch at path ("-" for stdin) and decodes it. The format is
// taken from the file extension, falling back to content sniffing.
func (l *BatchLoader) Load(path string) (*bulkingest.Batch, error) {
	data, err := l.read(path)
	if err != nil {
		return nil, err
	}
	batch, err := l.Decode(data, formatFromPath(path))
	if err != nil {
		return nil, err
	}
	zap.S().Infow("batch loaded", "source", path, "operations", len(batch.Operations))
	return batch, nil
}

func (l *BatchLoader) read(path string) ([]byte, error) {
	if path == StdinSource {
		data, err := io.ReadAll(l.stdin)
		if err != nil {
			return nil, bulkingest.NewBatchSourceError(bulkingest.ErrCodeBatchUnreadable, "cannot read batch from stdin", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, bulkingest.NewBatchSourceError(bulkingest.ErrCodeBatchNotFound,
				fmt.Sprintf("batch file not found: %s", path), err)
		}
		return nil, bulkingest.NewBatchSourceError(bulkingest.ErrCodeBatchUnreadable,
			fmt.Sprintf("cannot read batch file: %s", path), err)
	}
	return data, nil
}

func formatFromPath(path string) BatchFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return BatchFormatJSON
	case ".yaml", ".yml":
		return BatchFormatYAML
	}
	return BatchFormatAuto
}

func sniffFormat(data []byte) BatchFormat {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return BatchFormatJSON
	}
	return BatchFormatYAML
}

// Decode parses data, validates the envelope and converts every operation.
func (l *BatchLoader) Decode(data []byte, format BatchFormat) (*bulkingest.Batch, error) {
	if format == BatchFormatAuto {
		format = sniffFormat(data)
	}

	jsonData := data
	if format == BatchFormatYAML {
		var root yaml.Node
		if err := yaml.Unmarshal(data, &root); err != nil {
			return nil, bulkingest.NewBatchFormatError(bulkingest.ErrCodeInvalidYAML, "batch is not valid YAML", err)
		}
		quoteOperationScalars(&root)
		var generic any
		if root.Kind != 0 {
			if err := root.Decode(&generic); err != nil {
				return nil, bulkingest.NewBatchFormatError(bulkingest.ErrCodeInvalidYAML, "batch is not valid YAML", err)
			}
		}
		converted, err := json.Marshal(generic)
		if err != nil {
			return nil, bulkingest.NewBatchFormatError(bulkingest.ErrCodeInvalidYAML, "batch YAML cannot be represented as JSON", err)
		}
		jsonData = converted
	}

	decoder := json.NewDecoder(bytes.NewReader(jsonData))
	decoder.UseNumber()
	var instance any
	if err := decoder.Decode(&instance); err != nil {
		return nil, bulkingest.NewBatchFormatError(bulkingest.ErrCodeInvalidJSON, "batch is not valid JSON", err)
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, bulkingest.NewBatchFormatError(bulkingest.ErrCodeInvalidJSON, "batch is not valid JSON",
			errors.New("unexpected data after the top-level value"))
	}
	instance = normalizeNumbers(instance, false)
	if err := l.envelope.Validate(instance); err != nil {
		return nil, bulkingest.NewBatchFormatError(bulkingest.ErrCodeInvalidEnvelope, "batch does not match the expected structure", err)
	}

	normalized, err := json.Marshal(instance)
	if err != nil {
		return nil, bulkingest.NewBatchFormatError(bulkingest.ErrCodeInvalidJSON, "batch cannot be decoded", err)
	}
	var doc bulkingest.BatchDocument
	if err := json.Unmarshal(normalized, &doc); err != nil {
		return nil, bulkingest.NewBatchFormatError(bulkingest.ErrCodeInvalidJSON, "batch cannot be decoded", err)
	}

	if l.maxOperations > 0 && len(doc.Operations) > l.maxOperations {
		return nil, bulkingest.NewBatchFormatError(bulkingest.ErrCodeTooManyOperations,
			fmt.Sprintf("batch has %d operations, limit is %d", len(doc.Operations), l.maxOperations), nil)
	}

	return doc.Batch(), nil
}

// quoteOperationScalars retags numeric scalars inside operations as strings so
// they decode with their literal text ("001" stays "001").
func quoteOperationScalars(root *yaml.Node) {
	doc := root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}
	if doc.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value != "operations" || doc.Content[i+1].Kind != yaml.SequenceNode {
			continue
		}
		for _, op := range doc.Content[i+1].Content {
			if op.Kind != yaml.MappingNode {
				continue
			}
			for j := 1; j < len(op.Content); j += 2 {
				value := op.Content[j]
				if value.Kind == yaml.ScalarNode && (value.Tag == "!!int" || value.Tag == "!!float") {
					value.Tag = "!!str"
				}
			}
		}
	}
}

// normalizeNumbers turns json.Number values into strings inside operation
// objects and into float64 elsewhere.
func normalizeNumbers(value any, inOperation bool) any {
	switch v := value.(type) {
	case json.Number:
		if inOperation {
			return v.String()
		}
		f, err := v.Float64()
		if err != nil {
			return v.String()
		}
		return f
	case map[string]any:
		for key, item := range v {
			if key == "operations" && !inOperation {
				if ops, ok := item.([]any); ok {
					for i, op := range ops {
						ops[i] = normalizeNumbers(op, true)
					}
					continue
				}
			}
			v[key] = normalizeNumbers(item, inOperation)
		}
		return v
	case []any:
		for i, item := range v {
			v[i] = normalizeNumbers(item, inOperation)
		}
		return v
	}
	return value
}
