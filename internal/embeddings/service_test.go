// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embeddings

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupService(t *testing.T, client Client) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, MigrateEmbeddings(db))
	return NewService(db, client, "mock-model", "1", 3)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0, 0}, []float32{1, 0, 0}), 1e-6)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0, 0}, []float32{0, 1, 0}), 1e-6)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0, 0}, []float32{-1, 0, 0}), 1e-6)

	// Mismatched or empty vectors score zero.
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}))
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))
}

func TestVectorBlobRoundTrip(t *testing.T) {
	v := []float32{0.1, -2.5, 3.75}
	got := BlobToFloat32Slice(Float32SliceToBlob(v))
	assert.Equal(t, v, got)
}

func TestGetEmbedding_CachesByContentHash(t *testing.T) {
	client := &MockClient{
		EmbedFunc: func(text string) ([]float32, error) {
			return []float32{1, 2, 3}, nil
		},
	}
	svc := setupService(t, client)

	v1, err := svc.GetEmbedding("node-1", "some content")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, v1)
	assert.Equal(t, 1, client.CallCount)

	// Same content: served from cache, no provider call.
	_, err = svc.GetEmbedding("node-1", "some content")
	require.NoError(t, err)
	assert.Equal(t, 1, client.CallCount)

	// Rewritten content invalidates the cache entry.
	_, err = svc.GetEmbedding("node-1", "different content")
	require.NoError(t, err)
	assert.Equal(t, 2, client.CallCount)
}

func TestGetEmbeddingsBatch_MixedCacheState(t *testing.T) {
	client := &MockClient{
		EmbedBatchFunc: func(texts []string) ([][]float32, error) {
			vectors := make([][]float32, len(texts))
			for i := range texts {
				vectors[i] = []float32{float32(len(texts[i])), 0, 0}
			}
			return vectors, nil
		},
	}
	svc := setupService(t, client)

	// Warm the cache for one node.
	_, err := svc.GetEmbeddingsBatch(map[string]string{"node-1": "aaaa"}, 10)
	require.NoError(t, err)
	require.Equal(t, 1, client.CallCount)

	result, err := svc.GetEmbeddingsBatch(map[string]string{
		"node-1": "aaaa",
		"node-2": "bb",
	}, 10)
	require.NoError(t, err)
	assert.Len(t, result, 2)
	assert.Equal(t, []float32{4, 0, 0}, result["node-1"])
	assert.Equal(t, []float32{2, 0, 0}, result["node-2"])
	// Only the stale node hit the provider.
	assert.Equal(t, 2, client.CallCount)
}

func TestService_Disabled(t *testing.T) {
	client := &MockClient{}
	svc := setupService(t, client)
	svc.SetEnabled(false)

	v, err := svc.EmbedQuery("query")
	require.NoError(t, err)
	assert.Nil(t, v)

	batch, err := svc.GetEmbeddingsBatch(map[string]string{"n": "c"}, 10)
	require.NoError(t, err)
	assert.Empty(t, batch)
	assert.Equal(t, 0, client.CallCount)
}

func TestIsStale(t *testing.T) {
	client := &MockClient{
		EmbedFunc: func(text string) ([]float32, error) { return []float32{1, 0, 0}, nil },
	}
	svc := setupService(t, client)

	stale, err := svc.IsStale("node-1", "content")
	require.NoError(t, err)
	assert.True(t, stale)

	_, err = svc.GetEmbedding("node-1", "content")
	require.NoError(t, err)

	stale, err = svc.IsStale("node-1", "content")
	require.NoError(t, err)
	assert.False(t, stale)

	stale, err = svc.IsStale("node-1", "rewritten")
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestDeleteEmbedding(t *testing.T) {
	client := &MockClient{
		EmbedFunc: func(text string) ([]float32, error) { return []float32{1, 0, 0}, nil },
	}
	svc := setupService(t, client)

	_, err := svc.GetEmbedding("node-1", "content")
	require.NoError(t, err)
	count, err := svc.CountEmbeddings()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, svc.DeleteEmbedding("node-1"))
	count, err = svc.CountEmbeddings()
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
