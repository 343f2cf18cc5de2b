// README: Issues signed development access tokens for the API and the tracking channel.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"haulbid/internal/infra"
	"haulbid/internal/types"
)

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file providing HAULBID_JWT_SECRET")
	user := pflag.String("user", "", "user id to embed (default: random uuid)")
	role := pflag.String("role", string(types.RoleCustomer), "customer or driver")
	ttl := pflag.Duration("ttl", 24*time.Hour, "token lifetime")
	pflag.Parse()

	_ = godotenv.Load(*envFile)

	switch types.Role(*role) {
	case types.RoleCustomer, types.RoleDriver:
	default:
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}

	auth, err := infra.NewJWTAuth(os.Getenv("HAULBID_JWT_SECRET"), *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "HAULBID_JWT_SECRET:", err)
		os.Exit(2)
	}

	id := types.ID(*user)
	if id == "" {
		id = types.NewID()
	}
	tok, err := auth.Issue(id, types.Role(*role))
	if err != nil {
		fmt.Fprintln(os.Stderr, "issue token:", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "user=%s role=%s expires_in=%s\n", id, *role, *ttl)
	fmt.Println(tok)
}
