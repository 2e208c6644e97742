package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
database:
  username: seemantic_back
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "minio", cfg.Source.Type)
	require.NotNil(t, cfg.Source.Minio)
	assert.Equal(t, "localhost:9000", cfg.Source.Minio.Endpoint)
	assert.Equal(t, "seemantic_drive/", cfg.Source.Minio.Prefix)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 6334, cfg.VectorStore.Port)
	assert.Equal(t, 1.0, cfg.VectorStore.ReadConsistencyIntervalS)
	assert.Equal(t, "jina-embeddings-v3", cfg.Embedder.Model)
	assert.Equal(t, 1024, cfg.Embedder.Dimension)
	assert.Equal(t, "cosine", cfg.Embedder.DistanceMetric)
	assert.Equal(t, 15000, cfg.Embedder.MaxChars)
	assert.Equal(t, 1, cfg.Indexer.Version)
	assert.Equal(t, 10000, cfg.Indexer.MaxQueueSize)
	assert.Equal(t, 1000, cfg.Indexer.ChunkerMaxChars)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 20.0, cfg.Server.KeepAliveIntervalS)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "s3cret")

	cfg, err := Load([]byte(`
database:
  username: seemantic_back
  password: ${TEST_DB_PASSWORD}
  port: ${TEST_DB_PORT:-5433}
`))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, 5433, cfg.Database.Port)
}

func TestLoadValidates(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing database username",
			yaml:    `log: {level: info}`,
			wantErr: "database",
		},
		{
			name: "bad log level",
			yaml: `
log:
  level: loud
database:
  username: u
`,
			wantErr: "log",
		},
		{
			name: "bad distance metric",
			yaml: `
database:
  username: u
embedder:
  distance_metric: manhattan
`,
			wantErr: "embedder",
		},
		{
			name: "directory source without path",
			yaml: `
database:
  username: u
source:
  type: directory
`,
			wantErr: "source",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host: "db", Port: 5432, Username: "u", Password: "p",
		Database: "seemantic", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=db port=5432 user=u password=p dbname=seemantic sslmode=disable",
		cfg.DSN())
}
