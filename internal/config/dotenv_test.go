package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDotEnv(t *testing.T) {
	t.Parallel()
	src := `
# comment
SERVER_ADDR=:9000
export REDIS_URL = "redis://localhost:6379/0"
CHAT_TOKEN='abc def'
EMPTY=
`
	vars, err := parseDotEnv(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"SERVER_ADDR": ":9000",
		"REDIS_URL":   "redis://localhost:6379/0",
		"CHAT_TOKEN":  "abc def",
		"EMPTY":       "",
	}, vars)
}

func TestParseDotEnvRejectsGarbage(t *testing.T) {
	t.Parallel()
	_, err := parseDotEnv(strings.NewReader("OK=1\nnot a pair\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestLoadEnvKeepsExistingValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("DOTENV_TEST_NEW=from-file\nDOTENV_TEST_SET=from-file\n"), 0o600))
	t.Setenv("APP_ENV", "")
	t.Setenv("ENV_FILE", path)
	t.Setenv("DOTENV_TEST_SET", "from-env")
	t.Cleanup(func() { os.Unsetenv("DOTENV_TEST_NEW") })

	loadEnv()

	assert.Equal(t, "from-file", os.Getenv("DOTENV_TEST_NEW"))
	assert.Equal(t, "from-env", os.Getenv("DOTENV_TEST_SET"))
}

func TestLoadEnvSkippedInProduction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("DOTENV_TEST_PROD=1\n"), 0o600))
	t.Setenv("APP_ENV", "production")
	t.Setenv("ENV_FILE", path)

	loadEnv()

	_, set := os.LookupEnv("DOTENV_TEST_PROD")
	assert.False(t, set)
}
