package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signs a courier JWT for local testing against the API. In production tokens
// come from the platform's auth service; this tool only mimics its payload.
func main() {
	if len(os.Args) < 3 {
		log.Fatal("Usage: go run main.go <jwt-secret> <courier-id>")
	}

	secret := os.Args[1]
	courierID := os.Args[2]

	claims := jwt.MapClaims{
		"courier_id": courierID,
		"exp":        time.Now().Add(24 * time.Hour).Unix(),
		"iat":        time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	fmt.Println(signed)
}
