package storage

import (
	"fmt"
	"sync"

	"github.com/andrfilipenk/new-sub001/pkg/models"
)

// StrategyFactory hands out one ValueStrategy per backend type, caching
// instances. Table names default to the eav_value_* convention but can be
// overridden per backend type for tenant-specific schemas.
type StrategyFactory struct {
	mu         sync.Mutex
	tables     map[models.BackendType]string
	strategies map[models.BackendType]ValueStrategy
}

// NewStrategyFactory creates a factory with the default table mapping.
func NewStrategyFactory() *StrategyFactory {
	tables := make(map[models.BackendType]string, len(models.BackendTypes()))
	for _, bt := range models.BackendTypes() {
		tables[bt] = bt.ValueTable()
	}
	return &StrategyFactory{
		tables:     tables,
		strategies: make(map[models.BackendType]ValueStrategy),
	}
}

// GetStrategy returns the strategy for the backend type, constructing and
// caching it on first use. Unknown types return ErrUnknownBackendType.
func (f *StrategyFactory) GetStrategy(backendType models.BackendType) (ValueStrategy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s, ok := f.strategies[backendType]; ok {
		return s, nil
	}

	table, ok := f.tables[backendType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackendType, backendType)
	}

	var s ValueStrategy
	switch backendType {
	case models.BackendVarchar:
		s = &varcharStrategy{table: table}
	case models.BackendInt:
		s = &intStrategy{table: table}
	case models.BackendDecimal:
		s = &decimalStrategy{table: table}
	case models.BackendDatetime:
		s = &datetimeStrategy{table: table}
	case models.BackendText:
		s = &textStrategy{table: table}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackendType, backendType)
	}

	f.strategies[backendType] = s
	return s, nil
}

// SetTableMapping merge-overrides value table names. Cached strategies for
// the overridden types are discarded so later lookups pick up the new names.
func (f *StrategyFactory) SetTableMapping(mapping map[models.BackendType]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for bt, table := range mapping {
		if !bt.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownBackendType, bt)
		}
		if table == "" {
			return fmt.Errorf("empty table name for backend type %q", bt)
		}
		f.tables[bt] = table
		delete(f.strategies, bt)
	}
	return nil
}

// TableMapping returns a copy of the current backend type to table mapping.
func (f *StrategyFactory) TableMapping() map[models.BackendType]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[models.BackendType]string, len(f.tables))
	for bt, table := range f.tables {
		out[bt] = table
	}
	return out
}
