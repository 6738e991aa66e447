package repository

import (
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestPostgresDSN(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		got := postgresDSN(domain.RepositoryConfig{Driver: "postgres"})
		want := "host=localhost port=5432 dbname=kestrel sslmode=disable application_name=kestrel"
		if got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	})

	t.Run("QuotesCredentials", func(t *testing.T) {
		got := postgresDSN(domain.RepositoryConfig{
			PostgresHost:     "db.internal",
			PostgresPort:     6432,
			PostgresUser:     "kestrel",
			PostgresPassword: `p@ss word'\`,
			PostgresDB:       "fraud",
			PostgresSSLMode:  "require",
		})
		want := `host=db.internal port=6432 dbname=fraud sslmode=require application_name=kestrel user=kestrel password='p@ss word\'\\'`
		if got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	})
}
