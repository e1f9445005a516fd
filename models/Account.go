package models

import "gorm.io/gorm"

type Account struct {
	gorm.Model

	Msisdn  string `gorm:"uniqueIndex;size:16"`
	Balance int64

	Tokens []Token
}
