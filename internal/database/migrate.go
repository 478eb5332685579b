package database

import (
	"gorm.io/gorm"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/domain"
)

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.SessionGeoRecord{},
	)
}
