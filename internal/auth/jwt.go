package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User is the signed-in identity carried by the access token.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url"`
}

// tokenClaims is the subset of the access-token payload we care about.
type tokenClaims struct {
	jwt.RegisteredClaims
	Email        string `json:"email"`
	UserMetadata struct {
		FullName  string `json:"full_name"`
		AvatarURL string `json:"avatar_url"`
	} `json:"user_metadata"`
}

// decodeAccessToken reads identity and expiry out of a JWT without
// verifying the signature. The backend is the verifier; locally the
// token is only a session descriptor.
func decodeAccessToken(token string) (User, time.Time, error) {
	var claims tokenClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return User{}, time.Time{}, fmt.Errorf("malformed access token: %w", err)
	}

	user := User{
		ID:        claims.Subject,
		Email:     claims.Email,
		FullName:  claims.UserMetadata.FullName,
		AvatarURL: claims.UserMetadata.AvatarURL,
	}

	var expiry time.Time
	if claims.ExpiresAt != nil {
		expiry = claims.ExpiresAt.Time
	}
	return user, expiry, nil
}
