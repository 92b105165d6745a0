package util

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestDigest(t *testing.T) {
	testCases := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name:     "empty",
			content:  "",
			expected: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name:     "abc",
			content:  "abc",
			expected: "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sum, err := Digest(strings.NewReader(tc.content))
			require.NoError(t, err)
			require.Equal(t, tc.expected, sum)
			require.Equal(t, tc.expected, DigestString(tc.content))
		})
	}
}

func TestDigestLargeStream(t *testing.T) {
	content := strings.Repeat("0123456789", 10*copyBufferSize)

	sum, err := Digest(strings.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, DigestString(content), sum)
}

func TestDigestFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/root/a.txt", []byte("abc"), 0o644))

	sum, err := DigestFile(fs, "/root/a.txt")
	require.NoError(t, err)
	require.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)

	_, err = DigestFile(fs, "/root/missing.txt")
	require.Error(t, err)
}
