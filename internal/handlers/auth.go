package handlers

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/prashanthspeshway/riderapp-backend/internal/models"
	"github.com/prashanthspeshway/riderapp-backend/pkg/utils"
)

type RegisterInput struct {
	Username     string `json:"username" binding:"required"`
	Email        string `json:"email" binding:"required,email"`
	Password     string `json:"password" binding:"required,min=6"`
	Phone        string `json:"phone" binding:"required"`
	UserType     string `json:"userType" binding:"required,oneof=rider driver"`
	VehicleMake  string `json:"vehicleMake"`
	VehicleColor string `json:"vehicleColor"`
	VehiclePlate string `json:"vehiclePlate"`
	VehicleClass string `json:"vehicleClass"`
}

type LoginInput struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func Register(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input RegisterInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		if input.UserType == string(models.UserTypeDriver) {
			switch input.VehicleClass {
			case models.VehicleClassBike, models.VehicleClassAuto, models.VehicleClassCar, models.VehicleClassSUV:
			default:
				c.JSON(400, gin.H{"error": "Drivers must register a vehicle class: bike, auto, car or suv"})
				return
			}
			if input.VehiclePlate == "" {
				c.JSON(400, gin.H{"error": "Drivers must register a vehicle plate"})
				return
			}
		}

		user := models.User{
			Username:     input.Username,
			Email:        input.Email,
			Password:     input.Password,
			PhoneNumber:  input.Phone,
			UserType:     input.UserType,
			Rating:       5,
			VehicleMake:  input.VehicleMake,
			VehicleColor: input.VehicleColor,
			VehiclePlate: input.VehiclePlate,
			VehicleClass: input.VehicleClass,
		}
		if err := user.HashPassword(); err != nil {
			c.JSON(500, gin.H{"error": "Failed to hash password"})
			return
		}

		if result := db.Create(&user); result.Error != nil {
			c.JSON(500, gin.H{"error": "Failed to create user: " + result.Error.Error()})
			return
		}

		token, err := utils.GenerateToken(&user)
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to generate token"})
			return
		}

		c.JSON(201, gin.H{
			"message": "User created successfully",
			"token":   token,
			"user": gin.H{
				"id":          user.ID,
				"email":       user.Email,
				"username":    user.Username,
				"phoneNumber": user.PhoneNumber,
				"userType":    user.UserType,
			},
		})
	}
}

func Login(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input LoginInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		var user models.User
		if result := db.Where("email = ?", input.Email).First(&user); result.Error != nil {
			c.JSON(401, gin.H{"error": "Invalid credentials"})
			return
		}

		if err := user.CheckPassword(input.Password); err != nil {
			c.JSON(401, gin.H{"error": "Invalid credentials"})
			return
		}

		token, err := utils.GenerateToken(&user)
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to generate token"})
			return
		}

		c.JSON(200, gin.H{
			"token": token,
			"user": gin.H{
				"id":           user.ID,
				"email":        user.Email,
				"username":     user.Username,
				"phoneNumber":  user.PhoneNumber,
				"userType":     user.UserType,
				"rating":       user.Rating,
				"vehicleClass": user.VehicleClass,
			},
		})
	}
}

// UpdateFCMToken stores the device token used for push notifications.
func UpdateFCMToken(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		var input struct {
			Token string `json:"token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		if err := db.Model(&models.User{}).Where("id = ?", userId).Update("fcm_token", input.Token).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to update token"})
			return
		}

		c.JSON(200, gin.H{"message": "Token updated"})
	}
}
