package model

import "strings"

// FieldDefinition describes a template field that evidence can populate.
type FieldDefinition struct {
	Key         string     `json:"key" yaml:"key"`
	RecordType  RecordType `json:"record_type" yaml:"record_type"`
	Label       string     `json:"label" yaml:"label"`
	PredicateID string     `json:"predicate_id,omitempty" yaml:"predicate_id"`
	Sensitivity string     `json:"sensitivity,omitempty" yaml:"sensitivity"`
}

// FieldRegistry is an indexed collection of field definitions.
type FieldRegistry struct {
	Fields       []FieldDefinition
	byKey        map[string]*FieldDefinition
	byRecordType map[RecordType][]*FieldDefinition
	sensitive    []*FieldDefinition
}

// NewFieldRegistry creates a FieldRegistry with indexed lookups. Later
// definitions with a duplicate key replace earlier ones in the index.
func NewFieldRegistry(fields []FieldDefinition) *FieldRegistry {
	r := &FieldRegistry{
		Fields:       fields,
		byKey:        make(map[string]*FieldDefinition, len(fields)),
		byRecordType: make(map[RecordType][]*FieldDefinition),
	}
	for i := range r.Fields {
		f := &r.Fields[i]
		f.Key = strings.TrimSpace(f.Key)
		r.byKey[f.Key] = f
		r.byRecordType[f.RecordType] = append(r.byRecordType[f.RecordType], f)
		if f.Sensitivity != "" {
			r.sensitive = append(r.sensitive, f)
		}
	}
	return r
}

// ByKey returns the field definition for the given key, or nil if not found.
func (r *FieldRegistry) ByKey(key string) *FieldDefinition {
	if r == nil {
		return nil
	}
	return r.byKey[key]
}

// ByRecordType returns all fields of the given record type.
func (r *FieldRegistry) ByRecordType(rt RecordType) []*FieldDefinition {
	if r == nil {
		return nil
	}
	return r.byRecordType[rt]
}

// Sensitive returns all fields carrying a sensitivity category.
func (r *FieldRegistry) Sensitive() []*FieldDefinition {
	if r == nil {
		return nil
	}
	return r.sensitive
}
