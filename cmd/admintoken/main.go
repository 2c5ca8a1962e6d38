// Command admintoken issues a signed bearer token for the admin API.
package main

import (
	"flag"
	"fmt"
	"os"

	"catalog-showcase/internal/config"
	"catalog-showcase/internal/service"
)

func main() {
	subject := flag.String("subject", "admin", "user id placed in the token")
	role := flag.String("role", service.RoleAdmin, "role placed in the token")
	ttl := flag.Duration("ttl", service.DefaultTokenExpiration, "token lifetime")
	flag.Parse()

	cfg := config.Load()
	if cfg.JWT.Secret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is not set")
		os.Exit(1)
	}

	token, err := service.NewTokenService(cfg.JWT.Secret).IssueToken(*subject, *role, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
