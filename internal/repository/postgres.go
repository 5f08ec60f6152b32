package repository

import (
	"net/url"
	"strconv"

	_ "github.com/lib/pq"

	"github.com/opensource-finance/payguard/internal/domain"
)

// postgresDSN renders a postgres:// URL for lib/pq. Credentials are escaped
// by url.URL, so passwords may carry any character.
func postgresDSN(cfg domain.RepositoryConfig) string {
	host := orDefault(cfg.PostgresHost, "localhost")
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   host + ":" + strconv.Itoa(port),
		Path:   "/" + orDefault(cfg.PostgresDB, "payguard"),
	}
	if cfg.PostgresUser != "" {
		u.User = url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword)
	}

	q := url.Values{}
	q.Set("sslmode", orDefault(cfg.PostgresSSLMode, "disable"))
	q.Set("application_name", "payguard")
	u.RawQuery = q.Encode()
	return u.String()
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
