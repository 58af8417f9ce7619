package crawler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"http://Example.com/":                  "http://example.com",
		"http://example.com":                   "http://example.com",
		"HTTPS://EXAMPLE.com:443/a/b/":         "https://example.com/a/b",
		"http://example.com:80/a/../b#section": "http://example.com/b",
		"http://example.com:8080/x?b=2&a=1":    "http://example.com:8080/x?a=1&b=2",
		"https://user:pw@example.com/p":        "https://example.com/p",
	}
	for raw, want := range cases {
		got, err := NormalizeURL(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
	}
}

func TestNormalizeURLRejects(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"mailto:someone@example.com",
		"ftp://example.com/file",
		"/relative/path",
		"http://",
		"://broken",
	} {
		_, err := NormalizeURL(raw)
		require.Error(t, err, raw)
	}
}

func TestDomainOf(t *testing.T) {
	t.Parallel()

	d, err := DomainOf("https://News.Example.com/a")
	require.NoError(t, err)
	require.Equal(t, "news.example.com", d)

	d, err = DomainOf("http://127.0.0.1:8080/x")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8080", d)

	_, err = DomainOf("/nohost")
	require.Error(t, err)
}

func TestResolveReference(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://example.com/blog/post/")
	require.NoError(t, err)

	got, err := ResolveReference(base, "../about/")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/blog/about", got)

	got, err = ResolveReference(base, "//cdn.example.org/x#y")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.org/x", got)

	_, err = ResolveReference(base, "javascript:void(0)")
	require.Error(t, err)
}
