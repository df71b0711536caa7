package storage

import (
	"fmt"
	"regexp"
)

var tablePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidTableName reports whether name is a plain SQL identifier that can be
// interpolated into a statement.
func ValidTableName(name string) bool {
	return tablePattern.MatchString(name)
}

// ValidateTable returns ErrInvalidTable unless name is a plain SQL identifier.
func ValidateTable(name string) error {
	if !ValidTableName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, name)
	}
	return nil
}

// ValidateSchema checks every table named by schema.
func ValidateSchema(schema Schema) error {
	for _, table := range schema.ChunkTables {
		if err := ValidateTable(table); err != nil {
			return err
		}
	}
	return ValidateTable(schema.MappingTable)
}
