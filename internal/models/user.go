package models

import (
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type UserType string

const (
	UserTypeRider  UserType = "rider"
	UserTypeDriver UserType = "driver"
)

type User struct {
	gorm.Model
	Username     string  `json:"username" gorm:"column:username;unique;not null"`
	Email        string  `json:"email" gorm:"column:email;unique;not null"`
	Password     string  `json:"-" gorm:"-:migration"` // Temporary field for password handling
	PasswordHash string  `json:"-" gorm:"column:password_hash;not null"`
	PhoneNumber  string  `json:"phoneNumber" gorm:"column:phone_number"`
	UserType     string  `json:"userType" gorm:"column:user_type;not null"`
	Rating       float64 `json:"rating" gorm:"column:rating;default:5"`
	VehicleMake  string  `json:"vehicleMake,omitempty" gorm:"column:vehicle_make"`
	VehicleColor string  `json:"vehicleColor,omitempty" gorm:"column:vehicle_color"`
	VehiclePlate string  `json:"vehiclePlate,omitempty" gorm:"column:vehicle_plate"`
	VehicleClass string  `json:"vehicleClass,omitempty" gorm:"column:vehicle_class"`
	FCMToken     string  `json:"-" gorm:"column:fcm_token"`
}

// TableName specifies the table name
func (User) TableName() string {
	return "users"
}

func (u *User) HashPassword() error {
	if u.Password == "" {
		return nil
	}
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashedPassword)
	return nil
}

func (u *User) CheckPassword(password string) error {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
}
