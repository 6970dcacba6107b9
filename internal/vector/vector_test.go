package vector_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/cortex/internal/vector"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     vector.Config
		wantErr bool
	}{
		{"local ok", vector.Config{Kind: vector.KindLocal, Dimension: 8}, false},
		{"zero dimension", vector.Config{Kind: vector.KindLocal}, true},
		{"unknown kind", vector.Config{Kind: "faiss", Dimension: 8}, true},
		{"remote without host", vector.Config{Kind: vector.KindRemote, Dimension: 8,
			Remote: vector.RemoteConfig{APIKey: "k"}}, true},
		{"remote relative host", vector.Config{Kind: vector.KindRemote, Dimension: 8,
			Remote: vector.RemoteConfig{Host: "index.local", APIKey: "k"}}, true},
		{"remote without key", vector.Config{Kind: vector.KindRemote, Dimension: 8,
			Remote: vector.RemoteConfig{Host: "https://idx.example.com"}}, true},
		{"remote negative retries", vector.Config{Kind: vector.KindRemote, Dimension: 8,
			Remote: vector.RemoteConfig{Host: "https://idx.example.com", APIKey: "k", MaxRetries: -1}}, true},
		{"remote ok", vector.Config{Kind: vector.KindRemote, Dimension: 8,
			Remote: vector.RemoteConfig{Host: "https://idx.example.com", APIKey: "k"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, vector.ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOpen_SelectsBackend(t *testing.T) {
	local, err := vector.Open(vector.Config{Kind: vector.KindLocal, Dimension: dim})
	require.NoError(t, err)
	st, err := local.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, vector.KindLocal, st.Backend)

	remote, err := vector.Open(vector.Config{Kind: vector.KindRemote, Dimension: dim,
		Remote: vector.RemoteConfig{Host: "https://idx.example.com", APIKey: "k", IndexName: "mem"}})
	require.NoError(t, err)
	assert.Equal(t, dim, remote.Dimension())
	_, ok := remote.(*vector.Remote)
	assert.True(t, ok)
}

func TestOpen_CorruptedSnapshot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	idx, err := vector.NewLocal(dir, dim)
	require.NoError(t, err)
	require.NoError(t, idx.Add(context.Background(), []string{"a"}, [][]float32{unit(0)}))
	require.NoError(t, os.Remove(filepath.Join(dir, vector.SnapshotFile)))

	cfg := vector.Config{Kind: vector.KindLocal, Dimension: dim, Local: vector.LocalConfig{Dir: dir}}

	_, err = vector.Open(cfg)
	assert.ErrorIs(t, err, vector.ErrCorruptedSnapshot, "without reset the condition is reported")

	cfg.Local.ResetOnCorruption = true
	reset, err := vector.Open(cfg)
	require.NoError(t, err)
	st, err := reset.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.TotalVectors)

	// The reset wrote a consistent empty pair.
	_, err = vector.LoadLocal(dir, dim)
	assert.NoError(t, err)
}
