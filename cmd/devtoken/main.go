// devtoken mints a signed staff token for local testing.
// Usage: go run ./cmd/devtoken -id s-17 -name "Ana" -role cashier
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"tablepos/internal/config"
	"tablepos/internal/middleware"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	id := flag.String("id", "dev-server", "staff id (token subject)")
	name := flag.String("name", "Dev Server", "staff display name")
	role := flag.String("role", middleware.RoleManager, "server | cashier | manager")
	flag.Parse()

	switch *role {
	case middleware.RoleServer, middleware.RoleCashier, middleware.RoleManager:
	default:
		log.Fatal().Str("role", *role).Msg("unknown role")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	tok, err := middleware.IssueToken(cfg.JWTSecret, *id, *name, *role, time.Duration(cfg.JWTExpirationHours)*time.Hour)
	if err != nil {
		log.Fatal().Err(err).Msg("sign token")
	}
	fmt.Println(tok)
}
