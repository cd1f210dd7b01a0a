// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package crypto

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// ErrEmptySalt is returned when key derivation is attempted without a salt
var ErrEmptySalt = errors.New("derivation salt must not be empty")

// KDFParams holds scrypt parameters for subject key derivation.
// Defaults are deliberately slow: content at rest must not be readable
// by infrastructure access alone.
type KDFParams struct {
	N int // CPU/memory cost, power of two
	R int // block size
	P int // parallelism
}

// DefaultKDFParams returns the default scrypt parameters
func DefaultKDFParams() KDFParams {
	return KDFParams{N: 1 << 15, R: 8, P: 1}
}

// DeriveSubjectKey deterministically derives a 32-byte AES key for one
// subject from the subject identifier and a secret salt. The same
// subject and salt always yield the same key; different subjects never
// share a key.
func DeriveSubjectKey(subjectID string, salt []byte, params KDFParams) ([]byte, error) {
	if len(salt) == 0 {
		return nil, ErrEmptySalt
	}
	if params.N == 0 {
		params = DefaultKDFParams()
	}

	key, err := scrypt.Key([]byte(subjectID), salt, params.N, params.R, params.P, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive subject key: %w", err)
	}
	return key, nil
}
