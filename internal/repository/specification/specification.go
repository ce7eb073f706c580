package specification

import "gorm.io/gorm"

// Specification is one composable query clause.
type Specification interface {
	Apply(db *gorm.DB) *gorm.DB
}

// Apply folds specs onto db in order.
func Apply(db *gorm.DB, specs ...Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}
