package model

import "gorm.io/gorm"

type User struct {
	gorm.Model
	Username string `gorm:"uniqueIndex;not null" json:"username"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Password string `gorm:"not null" json:"-"`
	Role     string `json:"role"`

	OtpEnabled bool   `gorm:"default:false;" json:"-"`
	OtpSecret  string `json:"-"`
}
