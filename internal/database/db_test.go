package database

import (
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/kiosk-session-server/internal/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DBConfig{User: "kiosk", Pass: "p@ss", Host: "db", Port: "3306", Name: "kiosk"})

	mc, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "kiosk", mc.User)
	assert.Equal(t, "p@ss", mc.Passwd)
	assert.Equal(t, "db:3306", mc.Addr)
	assert.Equal(t, "kiosk", mc.DBName)
	assert.True(t, mc.ParseTime)
	assert.Equal(t, time.UTC, mc.Loc)
}
