package matching

import "context"

// SchemaAttribute is one attribute of the externally managed matching schema.
type SchemaAttribute struct {
	Name     string
	Type     string
	SubType  string
	MatchKey bool
}

// SchemaProvider fetches the attribute list of a matching schema. The loader
// uses it to derive target table columns when none are configured.
type SchemaProvider interface {
	GetSchema(ctx context.Context, schemaName string) ([]SchemaAttribute, error)
}
