package database

import "testing"

func TestDSNFromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_USER", "rider")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "riderapp")
	t.Setenv("DB_PORT", "5433")

	got := dsnFromEnv()
	want := "host=db.internal user=rider password=secret dbname=riderapp port=5433 sslmode=disable"
	if got != want {
		t.Errorf("dsnFromEnv() = %q, want %q", got, want)
	}
}
