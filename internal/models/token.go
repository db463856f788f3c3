package models

import "github.com/golang-jwt/jwt/v5"

// AdminClaims represents the JWT claims carried by admin API tokens
type AdminClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}
