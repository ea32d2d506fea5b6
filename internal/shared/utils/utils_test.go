package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasher(t *testing.T) {
	h := DefaultHasher()

	assert.Len(t, h.HashString("doc"), 64)
	assert.Equal(t, h.HashString("doc"), h.HashString("doc"))
	assert.NotEqual(t, h.HashString("doc"), h.HashString("doc2"))
	assert.Equal(t, h.HashFields("a", "b"), h.HashFields("b", "a"))
}

func TestETag(t *testing.T) {
	tag := ETag("<html></html>")
	assert.True(t, strings.HasPrefix(tag, `"`) && strings.HasSuffix(tag, `"`))
	assert.Len(t, tag, 34)
	assert.NotEqual(t, tag, ETag("<html> </html>"))

	tests := []struct {
		header string
		want   bool
	}{
		{"", false},
		{tag, true},
		{"W/" + tag, true},
		{`"other", ` + tag, true},
		{"*", true},
		{`"other"`, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchesETag(tt.header, tag), tt.header)
	}
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("prev_01HZX3", "session", true))
	assert.NoError(t, ValidateID("", "session", false))
	assert.Error(t, ValidateID("", "session", true))
	assert.Error(t, ValidateID("../etc", "session", true))
	assert.Error(t, ValidateID(strings.Repeat("a", MaxIDLength+1), "session", true))
}

func TestValidatePatch(t *testing.T) {
	assert.NoError(t, ValidatePatch("css", "h1{color:red}"))
	assert.Error(t, ValidatePatch("js", strings.Repeat("x", MaxPatchSize+1)))
	assert.Error(t, ValidatePatch("css", "\xff\xfe"))
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress("example.com/path?q=1"))
	assert.Error(t, ValidateAddress("example.com\r\nHost: evil"))
	assert.Error(t, ValidateAddress(strings.Repeat("a", MaxAddressSize+1)))
}

func TestValidateRequest(t *testing.T) {
	assert.NoError(t, ValidateRequest("hide the sidebar", 1024))
	assert.Error(t, ValidateRequest(strings.Repeat("x", MaxRequestSize+1), 0))
	assert.Error(t, ValidateRequest("ok", MaxImageSize+1))
}
