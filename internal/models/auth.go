package models

import "github.com/golang-jwt/jwt/v5"

// SignInRequest carries the backend login response handed over by the browser.
type SignInRequest struct {
	AccessToken string   `json:"access_token" validate:"required"`
	User        UserInfo `json:"user" validate:"required"`
}

// AccessTokenClaims are the claims the backend embeds in access tokens.
type AccessTokenClaims struct {
	UserID ID `json:"user_id"`
	jwt.RegisteredClaims
}
