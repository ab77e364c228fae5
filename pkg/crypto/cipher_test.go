package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte("k"), 32)
}

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)

	tests := []struct {
		name      string
		plaintext string
	}{
		{name: "webhook url", plaintext: `{"webhook_url":"https://hooks.slack.com/services/T0/B0/xyz"}`},
		{name: "empty string", plaintext: ""},
		{name: "unicode", plaintext: "pägerdüty-ключ"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := c.Encrypt(tt.plaintext)
			require.NoError(t, err)
			assert.NotEqual(t, tt.plaintext, sealed)

			opened, err := c.Decrypt(sealed)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, opened)
		})
	}
}

func TestCipher_NonceFreshness(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)

	a, err := c.Encrypt("same secret")
	require.NoError(t, err)
	b, err := c.Encrypt("same secret")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "identical plaintexts must not produce identical ciphertexts")
}

func TestCipher_RejectsBadInput(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)

	t.Run("not base64", func(t *testing.T) {
		_, err := c.Decrypt("%%%not-base64%%%")
		assert.ErrorIs(t, err, ErrInvalidCiphertext)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := c.Decrypt("YWJj")
		assert.ErrorIs(t, err, ErrInvalidCiphertext)
	})

	t.Run("tampered", func(t *testing.T) {
		sealed, err := c.Encrypt("secret")
		require.NoError(t, err)
		tampered := []byte(sealed)
		tampered[len(tampered)-5] ^= 'x'
		_, err = c.Decrypt(string(tampered))
		assert.ErrorIs(t, err, ErrInvalidCiphertext)
	})

	t.Run("foreign key", func(t *testing.T) {
		other, err := NewCipher(bytes.Repeat([]byte("q"), 32))
		require.NoError(t, err)
		sealed, err := other.Encrypt("secret")
		require.NoError(t, err)
		_, err = c.Decrypt(sealed)
		assert.ErrorIs(t, err, ErrInvalidCiphertext)
	})
}

func TestNewCipher_KeyLength(t *testing.T) {
	_, err := NewCipher([]byte("short"))
	assert.Error(t, err)

	_, err = NewCipher(bytes.Repeat([]byte("k"), 33))
	assert.Error(t, err)
}

func TestMaskSensitive(t *testing.T) {
	in := map[string]any{
		"webhook_url": "https://hooks.slack.com/T0/B0",
		"password":    "hunter2",
		"smtp": map[string]any{
			"host":     "mail.acme.test",
			"Password": "nested-secret",
		},
		"routing_key": "pd-routing",
		"recipients":  []string{"oncall@acme.test"},
	}

	out := MaskSensitive(in)

	assert.Equal(t, "https://hooks.slack.com/T0/B0", out["webhook_url"])
	assert.Equal(t, Masked, out["password"])
	assert.Equal(t, Masked, out["routing_key"])

	nested, ok := out["smtp"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "mail.acme.test", nested["host"])
	assert.Equal(t, Masked, nested["Password"], "key match is case-insensitive")

	assert.Equal(t, "hunter2", in["password"], "input map untouched")
}

func TestSensitiveKey(t *testing.T) {
	assert.True(t, SensitiveKey("api_key"))
	assert.True(t, SensitiveKey("SMTP_PASSWORD"))
	assert.True(t, SensitiveKey("client_secret"))
	assert.False(t, SensitiveKey("webhook_url"))
	assert.False(t, SensitiveKey("hostname"))
}
