package phi

import "strings"

// Cipher is a FieldCipher that also provides the equality hash used for
// lookups against encrypted columns.
type Cipher interface {
	FieldCipher
	Hash(value string) string
}

// Noop passes values through unchanged. For development and tests only;
// production wiring requires a real key.
type Noop struct{}

func (Noop) Encrypt(plaintext string) (string, error)  { return plaintext, nil }
func (Noop) Decrypt(ciphertext string) (string, error) { return ciphertext, nil }

// Hash normalizes the value the same way Encryptor does so lookups behave
// consistently across the two implementations.
func (Noop) Hash(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
