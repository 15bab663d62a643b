package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginPage = `<html><head><meta name="csrf-token" content="tok123">
<meta property="og:url" content="https://example.test/view/1"></head>
<body>
<form id="search"><input type="hidden" name="q" value="ignored"></form>
<form id="submit">
  <input type="hidden" name="key" value="k1">
  <input type="hidden" name="folder" value="">
  <input type="text" name="title" value="visible">
</form>
</body></html>`

func TestHiddenFields(t *testing.T) {
	fields, err := HiddenFields([]byte(loginPage), "form#submit")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"key": "k1", "folder": ""}, fields)

	all, err := HiddenFields([]byte(loginPage), "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = HiddenFields([]byte(loginPage), "form#missing")
	assert.Error(t, err)
}

func TestMetaContent(t *testing.T) {
	v, ok := MetaContent([]byte(loginPage), "csrf-token")
	assert.True(t, ok)
	assert.Equal(t, "tok123", v)

	v, ok = MetaContent([]byte(loginPage), "og:url")
	assert.True(t, ok)
	assert.Equal(t, "https://example.test/view/1", v)

	_, ok = MetaContent([]byte(loginPage), "missing")
	assert.False(t, ok)
}
