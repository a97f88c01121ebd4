// Command mktoken signs a development JWT accepted by the realtime gateway.
//
// Usage:
//
//	JWT_SECRET=devsecret mktoken -sub alumni-123 -role alumni -ttl 24h
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/alumnet/platform/internal/auth"
)

func main() {
	sub := flag.String("sub", "", "subject id to embed in the token (required)")
	role := flag.String("role", auth.DefaultRole, "role claim")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is required")
	}
	if *sub == "" {
		log.Fatal("-sub is required")
	}

	token, err := auth.Sign([]byte(secret), *sub, *role, *ttl)
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}
	fmt.Println(token)
}
