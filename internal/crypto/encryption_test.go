// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	plaintext := "subject prefers morning appointments"
	encrypted, err := Encrypt(plaintext, key)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, encrypted)

	decrypted, err := Decrypt(encrypted, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncrypt_Nondeterministic(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	a, err := Encrypt("same text", key)
	require.NoError(t, err)
	b, err := Encrypt("same text", key)
	require.NoError(t, err)

	// Random nonce per call: identical plaintexts must not produce
	// identical ciphertexts.
	assert.NotEqual(t, a, b)
}

func TestEncrypt_InvalidKeyLength(t *testing.T) {
	_, err := Encrypt("text", []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestDecrypt_WrongKey(t *testing.T) {
	key1, err := GenerateKey()
	require.NoError(t, err)
	key2, err := GenerateKey()
	require.NoError(t, err)

	encrypted, err := Encrypt("secret", key1)
	require.NoError(t, err)

	_, err = Decrypt(encrypted, key2)
	assert.Error(t, err)
}

func TestDecrypt_TruncatedCiphertext(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	_, err = Decrypt("dG9vc2hvcnQ=", key)
	assert.Error(t, err)
}

func TestKeyStringRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	decoded, err := StringToKey(KeyToString(key))
	require.NoError(t, err)
	assert.Equal(t, key, decoded)
}

func TestStringToKey_Invalid(t *testing.T) {
	_, err := StringToKey("not base64!!!")
	assert.Error(t, err)

	_, err = StringToKey(KeyToString([]byte("wrong length")))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestDeriveSubjectKey_Deterministic(t *testing.T) {
	salt := []byte("test-salt-value")
	params := KDFParams{N: 1 << 10, R: 8, P: 1}

	k1, err := DeriveSubjectKey("subject-a", salt, params)
	require.NoError(t, err)
	k2, err := DeriveSubjectKey("subject-a", salt, params)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 32)
}

func TestDeriveSubjectKey_DistinctSubjects(t *testing.T) {
	salt := []byte("test-salt-value")
	params := KDFParams{N: 1 << 10, R: 8, P: 1}

	ka, err := DeriveSubjectKey("subject-a", salt, params)
	require.NoError(t, err)
	kb, err := DeriveSubjectKey("subject-b", salt, params)
	require.NoError(t, err)
	assert.NotEqual(t, ka, kb)
}

func TestDeriveSubjectKey_EmptySalt(t *testing.T) {
	_, err := DeriveSubjectKey("subject-a", nil, DefaultKDFParams())
	assert.ErrorIs(t, err, ErrEmptySalt)
}
