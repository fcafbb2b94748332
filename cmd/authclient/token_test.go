package main

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// unsignedGoogleToken builds an ID token the stub API accepts; it reads the
// claims without checking the signature.
func unsignedGoogleToken(subject string, email string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":         subject,
		"email":       email,
		"given_name":  "Grace",
		"family_name": "Hopper",
		"exp":         time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("not-google"))
	if err != nil {
		panic(err)
	}
	return signed
}

