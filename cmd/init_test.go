package cmd

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitCommand(t *testing.T) {
	tmp := t.TempDir()
	origDatabase := cfg.Database
	origDatabaseType := cfg.DatabaseType
	t.Cleanup(func() {
		cfg.Database = origDatabase
		cfg.DatabaseType = origDatabaseType
		customPasswordReader = nil
	})
	cfg.Database = filepath.Join(tmp, fmt.Sprintf("%s.sqlite3", t.Name()))
	cfg.DatabaseType = "sqlite"

	customPasswordReader = func() ([]byte, error) {
		return []byte("correct-horse-battery-staple"), nil
	}

	var buf bytes.Buffer
	initCmd.SetOut(&buf)
	initCmd.SetContext(context.Background())
	initCmd.Run(initCmd, nil)

	out := buf.String()
	assert.Contains(t, out, "CSTL_API_ADMIN_PASSWORD_HASH=$argon2id$")
	assert.Contains(t, out, "Initialization complete")
	require.FileExists(t, cfg.Database)
}
