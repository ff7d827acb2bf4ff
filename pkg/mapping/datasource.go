package mapping

import (
	"fmt"
	"strings"
)

// SchemaGeneration is the physical schema policy of a data source.
type SchemaGeneration int

const (
	// NoAnalysis leaves the physical schema untouched.
	NoAnalysis SchemaGeneration = iota
	// UpdateSchema creates missing tables.
	UpdateSchema
	// GenerateAnalysis produces the DDL without running it.
	GenerateAnalysis
	// ApplyAnalysis produces and runs the DDL.
	ApplyAnalysis
)

var schemaGenerationNames = []string{"NoAnalysis", "UpdateSchema", "GenerateAnalysis", "ApplyAnalysis"}

func (g SchemaGeneration) String() string {
	if int(g) >= 0 && int(g) < len(schemaGenerationNames) {
		return schemaGenerationNames[g]
	}
	return fmt.Sprintf("SchemaGeneration(%d)", int(g))
}

// ParseSchemaGeneration parses a policy name case-insensitively. An empty name is NoAnalysis.
func ParseSchemaGeneration(s string) (SchemaGeneration, error) {
	if s == "" {
		return NoAnalysis, nil
	}
	for i, name := range schemaGenerationNames {
		if strings.EqualFold(name, s) {
			return SchemaGeneration(i), nil
		}
	}
	return NoAnalysis, fmt.Errorf("unknown schema generation policy %q", s)
}

// DataSource describes one logical database target.
type DataSource struct {
	Name             string
	Order            int
	Readable         bool
	Writable         bool
	SchemaGeneration SchemaGeneration
	Audit            bool
	Provider         string
	ConnectionString string
	TablePrefix      string
	TableSuffix      string
}

// NewDataSource returns a readable and writable data source.
func NewDataSource(name string, order int) *DataSource {
	return &DataSource{
		Name:     name,
		Order:    order,
		Readable: true,
		Writable: true,
	}
}

// Fingerprint identifies the configuration that shapes the statements sent
// to this data source. Connection secrets are excluded.
func (d *DataSource) Fingerprint() string {
	return fmt.Sprintf("%s#%d#%s#%s#%s", d.Name, d.Order, d.Provider, d.TablePrefix, d.TableSuffix)
}
