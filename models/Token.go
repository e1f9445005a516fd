package models

import (
	"github.com/jinzhu/gorm"
	"time"
)

type Token struct {
	gorm.Model
	ExpiresAt time.Time
	TokenHash string

	AccountID uint
}
