package database

import "chatguard/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.Violation{},
		&models.Action{},
	}
}
