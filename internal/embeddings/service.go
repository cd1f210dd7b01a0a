// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embeddings

import (
	"crypto/sha256"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service handles embedding generation and caching with lazy regeneration.
// Vectors are cached per node, keyed by content hash; rewriting a node's
// content invalidates its cache entry without a synchronous provider call.
type Service struct {
	db           *gorm.DB
	client       Client
	modelName    string
	modelVersion string
	dimensions   int
	enabled      bool
}

// NewService creates a new embedding service
func NewService(db *gorm.DB, client Client, modelName, modelVersion string, dimensions int) *Service {
	return &Service{
		db:           db,
		client:       client,
		modelName:    modelName,
		modelVersion: modelVersion,
		dimensions:   dimensions,
		enabled:      true,
	}
}

// SetEnabled enables or disables the embedding service
func (s *Service) SetEnabled(enabled bool) {
	s.enabled = enabled
}

// IsEnabled returns whether the service is enabled
func (s *Service) IsEnabled() bool {
	return s.enabled
}

// EmbedQuery generates a vector for ad hoc query text without caching
func (s *Service) EmbedQuery(text string) ([]float32, error) {
	if !s.enabled {
		return nil, nil
	}
	return s.client.Embed(text)
}

// GetEmbedding retrieves or generates an embedding for the given node
// content. Returns cached if fresh, regenerates if stale.
func (s *Service) GetEmbedding(nodeID, content string) ([]float32, error) {
	if !s.enabled {
		return nil, nil
	}

	contentHash := CalculateContentHash(content)

	// Check cache for fresh embedding
	var cached Embedding
	err := s.db.Where("node_id = ? AND content_hash = ? AND model_version = ?",
		nodeID, contentHash, s.modelVersion).First(&cached).Error

	if err == nil {
		// Cache hit - embedding is fresh
		return BlobToFloat32Slice(cached.Vector), nil
	}

	// Cache miss or stale - regenerate
	vector, err := s.client.Embed(content)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}

	if err := s.storeVector(nodeID, contentHash, vector); err != nil {
		return nil, err
	}

	return vector, nil
}

// GetEmbeddingsBatch retrieves or generates embeddings for many nodes at
// once, batching provider calls for the stale subset. The returned map
// only contains nodes for which a vector could be produced; a provider
// error fails the whole batch.
func (s *Service) GetEmbeddingsBatch(contents map[string]string, batchSize int) (map[string][]float32, error) {
	result := make(map[string][]float32, len(contents))
	if !s.enabled || len(contents) == 0 {
		return result, nil
	}
	if batchSize < 1 {
		batchSize = 32
	}

	var staleIDs []string
	var staleTexts []string

	for nodeID, content := range contents {
		contentHash := CalculateContentHash(content)
		var cached Embedding
		err := s.db.Where("node_id = ? AND content_hash = ? AND model_version = ?",
			nodeID, contentHash, s.modelVersion).First(&cached).Error
		if err == nil {
			result[nodeID] = BlobToFloat32Slice(cached.Vector)
			continue
		}
		staleIDs = append(staleIDs, nodeID)
		staleTexts = append(staleTexts, content)
	}

	for start := 0; start < len(staleIDs); start += batchSize {
		end := start + batchSize
		if end > len(staleIDs) {
			end = len(staleIDs)
		}

		vectors, err := s.client.EmbedBatch(staleTexts[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to generate embeddings: %w", err)
		}

		for i, vector := range vectors {
			nodeID := staleIDs[start+i]
			if vector == nil {
				continue
			}
			contentHash := CalculateContentHash(staleTexts[start+i])
			if err := s.storeVector(nodeID, contentHash, vector); err != nil {
				return nil, err
			}
			result[nodeID] = vector
		}
	}

	return result, nil
}

// storeVector upserts a cached vector for a node
func (s *Service) storeVector(nodeID, contentHash string, vector []float32) error {
	embedding := Embedding{
		NodeID:       nodeID,
		ContentHash:  contentHash,
		ModelName:    s.modelName,
		ModelVersion: s.modelVersion,
		Dimensions:   len(vector),
		Vector:       Float32SliceToBlob(vector),
		CreatedAt:    time.Now(),
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "node_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"content_hash", "model_version", "vector", "created_at", "dimensions"}),
	}).Create(&embedding).Error

	if err != nil {
		return fmt.Errorf("failed to cache embedding: %w", err)
	}
	return nil
}

// GetCachedEmbedding retrieves a cached embedding without regeneration
func (s *Service) GetCachedEmbedding(nodeID string) (*Embedding, error) {
	var embedding Embedding
	err := s.db.Where("node_id = ?", nodeID).First(&embedding).Error
	if err != nil {
		return nil, err
	}
	return &embedding, nil
}

// DeleteEmbedding removes a node's cached vector
func (s *Service) DeleteEmbedding(nodeID string) error {
	return s.db.Where("node_id = ?", nodeID).Delete(&Embedding{}).Error
}

// IsStale checks if a node's cached embedding no longer matches its content
func (s *Service) IsStale(nodeID, content string) (bool, error) {
	contentHash := CalculateContentHash(content)

	var embedding Embedding
	err := s.db.Where("node_id = ?", nodeID).First(&embedding).Error
	if err != nil {
		// No embedding exists, considered stale
		return true, nil
	}

	if embedding.ContentHash != contentHash || embedding.ModelVersion != s.modelVersion {
		return true, nil
	}

	return false, nil
}

// CountEmbeddings returns the total number of cached embeddings
func (s *Service) CountEmbeddings() (int64, error) {
	var count int64
	err := s.db.Model(&Embedding{}).Count(&count).Error
	return count, err
}

// CalculateContentHash computes a SHA256 hash of the content
func CalculateContentHash(content string) string {
	hash := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", hash[:16]) // Use first 16 bytes for shorter hash
}
