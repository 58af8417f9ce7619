package sha256

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasherKnownDigests(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":            "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		"hello world": "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
	}
	h := New()
	for input, want := range cases {
		got, err := h.Hash([]byte(input))
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, want, SumString(input))
		assert.Len(t, got, 64)
	}
}

func TestHasherDistinguishesNormalizedURLs(t *testing.T) {
	t.Parallel()

	assert.NotEqual(t, Sum([]byte("https://a.test")), Sum([]byte("https://a.test/docs")))
	assert.Equal(t, Sum([]byte("https://a.test/docs")), SumString("https://a.test/docs"))
}
