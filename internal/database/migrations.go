package database

import (
	"gorm.io/gorm"

	"github.com/prashanthspeshway/riderapp-backend/internal/models"
)

func RunMigrations(db *gorm.DB) error {
	// Create tables if they don't exist
	err := db.AutoMigrate(
		&models.User{},
		&models.Ride{},
		&models.ChatMessage{},
		&models.DriverRating{},
	)
	if err != nil {
		return err
	}

	// Older deployments predate the vehicle columns on users
	if db.Migrator().HasTable(&models.User{}) {
		columns := []string{
			"ADD COLUMN IF NOT EXISTS vehicle_plate text DEFAULT ''",
			"ADD COLUMN IF NOT EXISTS vehicle_make text DEFAULT ''",
			"ADD COLUMN IF NOT EXISTS vehicle_color text DEFAULT ''",
			"ADD COLUMN IF NOT EXISTS vehicle_class text DEFAULT ''",
			"ADD COLUMN IF NOT EXISTS user_type text DEFAULT 'rider'",
		}

		for _, column := range columns {
			if err := db.Exec("ALTER TABLE users " + column).Error; err != nil {
				return err
			}
		}

		db.Exec(`ALTER TABLE users DROP CONSTRAINT IF EXISTS users_user_type_check`)
		db.Exec(`ALTER TABLE users ADD CONSTRAINT users_user_type_check CHECK (user_type IN ('rider', 'driver'))`)
	}

	if db.Migrator().HasTable(&models.Ride{}) {
		db.Exec(`ALTER TABLE rides DROP CONSTRAINT IF EXISTS rides_status_check`)
		db.Exec(`ALTER TABLE rides ADD CONSTRAINT rides_status_check CHECK (status IN ('pending', 'accepted', 'started', 'completed', 'cancelled', 'rejected'))`)

		// Lookups the API does constantly
		db.Exec(`CREATE INDEX IF NOT EXISTS idx_rides_rider_status ON rides (rider_id, status)`)
		db.Exec(`CREATE INDEX IF NOT EXISTS idx_rides_driver_status ON rides (driver_id, status)`)
	}

	return nil
}
