// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package privacy

import (
	"sync"

	"github.com/tejzpr/munin-mcp/internal/crypto"
)

// SubjectCipher seals and opens content with a per-subject key derived
// from the deployment salt. One subject's ciphertext never decrypts
// with another subject's key, which is what makes a cross-subject read
// bug fail loudly instead of leaking.
type SubjectCipher struct {
	salt   []byte
	params crypto.KDFParams

	mu   sync.Mutex
	keys map[string][]byte // subjectID -> derived key; scrypt is expensive
}

// NewSubjectCipher creates a cipher over the deployment salt
func NewSubjectCipher(salt []byte, params crypto.KDFParams) (*SubjectCipher, error) {
	if len(salt) == 0 {
		return nil, crypto.ErrEmptySalt
	}
	return &SubjectCipher{
		salt:   salt,
		params: params,
		keys:   make(map[string][]byte),
	}, nil
}

// Seal encrypts plaintext with the subject's derived key
func (c *SubjectCipher) Seal(subjectID, plaintext string) (string, error) {
	key, err := c.keyFor(subjectID)
	if err != nil {
		return "", err
	}
	return crypto.Encrypt(plaintext, key)
}

// Open decrypts ciphertext with the subject's derived key
func (c *SubjectCipher) Open(subjectID, ciphertext string) (string, error) {
	key, err := c.keyFor(subjectID)
	if err != nil {
		return "", err
	}
	return crypto.Decrypt(ciphertext, key)
}

func (c *SubjectCipher) keyFor(subjectID string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key, ok := c.keys[subjectID]; ok {
		return key, nil
	}
	key, err := crypto.DeriveSubjectKey(subjectID, c.salt, c.params)
	if err != nil {
		return nil, err
	}
	c.keys[subjectID] = key
	return key, nil
}
