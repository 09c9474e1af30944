package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
mongodb_url = "clickhouse:9000"
database = "icrc_indexer"
ic_url = "https://ic0.app"

[[tokens]]
symbol = "ckbtc"
name = "ckBTC"
canister_id = "mxzaz-hqaaa-aaaar-qaada-cai"

[[tokens]]
symbol = "icp"
name = "Internet Computer"
canister_id = "ryjl3-tyaaa-aaaaa-aaaba-cai"
decimals = 8

[log]
level = "info"
file_enabled = true
file = "indexer.log"
max_size = 100
max_files = 7
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "icrc_indexer", cfg.Database)
	assert.Equal(t, "https://ic0.app", cfg.ICURL)
	require.Len(t, cfg.Tokens, 2)

	// symbols are upper-cased on load.
	assert.Equal(t, "CKBTC", cfg.Tokens[0].Symbol)
	assert.Nil(t, cfg.Tokens[0].Decimals)

	assert.Equal(t, "ICP", cfg.Tokens[1].Symbol)
	require.NotNil(t, cfg.Tokens[1].Decimals)
	assert.Equal(t, uint8(8), *cfg.Tokens[1].Decimals)

	assert.True(t, cfg.Log.FileEnabled)
	assert.Equal(t, 7, cfg.Log.MaxFiles)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoadRejectsDuplicateSymbols(t *testing.T) {
	path := writeConfig(t, `
mongodb_url = "clickhouse:9000"
database = "icrc_indexer"
ic_url = "https://ic0.app"

[[tokens]]
symbol = "ICP"
canister_id = "ryjl3-tyaaa-aaaaa-aaaba-cai"

[[tokens]]
symbol = "icp"
canister_id = "ryjl3-tyaaa-aaaaa-aaaba-cai"
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "duplicate token symbol")
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing_database",
			body: `
ic_url = "https://ic0.app"
[[tokens]]
symbol = "icp"
canister_id = "ryjl3-tyaaa-aaaaa-aaaba-cai"
`,
			want: "database is required",
		},
		{
			name: "missing_ic_url",
			body: `
database = "icrc_indexer"
[[tokens]]
symbol = "icp"
canister_id = "ryjl3-tyaaa-aaaaa-aaaba-cai"
`,
			want: "ic_url is required",
		},
		{
			name: "no_tokens",
			body: `
database = "icrc_indexer"
ic_url = "https://ic0.app"
`,
			want: "at least one [[tokens]] entry is required",
		},
		{
			name: "token_missing_canister_id",
			body: `
database = "icrc_indexer"
ic_url = "https://ic0.app"
[[tokens]]
symbol = "icp"
`,
			want: "canister_id is required",
		},
		{
			name: "token_missing_symbol",
			body: `
database = "icrc_indexer"
ic_url = "https://ic0.app"
[[tokens]]
canister_id = "ryjl3-tyaaa-aaaaa-aaaba-cai"
`,
			want: "symbol is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.body)
			_, err := Load(path)
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadDefaultsToConfigTomlInCWD(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	defer os.Chdir(cwd)

	require.NoError(t, os.Chdir(dir))
	require.NoError(t, os.WriteFile("config.toml", []byte(`
database = "icrc_indexer"
ic_url = "https://ic0.app"
[[tokens]]
symbol = "icp"
canister_id = "ryjl3-tyaaa-aaaaa-aaaba-cai"
`), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "icrc_indexer", cfg.Database)
}
