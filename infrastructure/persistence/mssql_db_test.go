package persistence

import (
	"net/url"
	"testing"

	"social-publisher/infrastructure/configuration"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMSSQLDSN(t *testing.T) {
	tests := []struct {
		name      string
		cfg       configuration.Db
		trust     bool
		wantUser  string
		wantTrust bool
	}{
		{"azure", configuration.Db{Name: "publisher", Host: "srv.database.windows.net", Port: "1433", User: "app", Password: "p@ss"}, false, "app", false},
		{"local container", configuration.Db{Name: "publisher", Host: "localhost", Port: "1433", User: "sa", Password: "x"}, false, "sa", true},
		{"forced trust", configuration.Db{Host: "db", Port: "1433"}, true, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(mssqlDSN(tt.cfg, tt.trust))
			require.NoError(t, err)
			assert.Equal(t, "sqlserver", u.Scheme)
			assert.Equal(t, tt.cfg.Host+":"+tt.cfg.Port, u.Host)
			assert.Equal(t, tt.wantUser, u.User.Username())
			q := u.Query()
			assert.Equal(t, "true", q.Get("encrypt"))
			assert.Equal(t, tt.cfg.Name, q.Get("database"))
			assert.Equal(t, tt.wantTrust, q.Get("TrustServerCertificate") == "true")
		})
	}
}
