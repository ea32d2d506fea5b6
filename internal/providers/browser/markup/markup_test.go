package markup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	const target = "https://demo.test/a"

	tests := []struct {
		name     string
		raw      string
		wantHead string
		wantBody string
	}{
		{
			name:     "head without base gets one prepended",
			raw:      `<html><head><title>T</title></head><body><p>x</p></body></html>`,
			wantHead: `<base href="https://demo.test/a"><title>T</title>`,
			wantBody: `<p>x</p>`,
		},
		{
			name:     "existing base is kept",
			raw:      `<html><head><base href="/root/"><title>T</title></head><body>b</body></html>`,
			wantHead: `<base href="/root/"><title>T</title>`,
			wantBody: `b`,
		},
		{
			name:     "no head yields synthetic base head",
			raw:      `<html><body><h1>only body</h1></body></html>`,
			wantHead: `<base href="https://demo.test/a">`,
			wantBody: `<h1>only body</h1>`,
		},
		{
			name:     "case and attributes are tolerated",
			raw:      "<HTML><HEAD lang=\"en\">\n<meta charset=utf-8>\n</HEAD ><BODY class=\"x\">Hi</Body></HTML>",
			wantHead: "<base href=\"https://demo.test/a\">\n<meta charset=utf-8>\n",
			wantBody: "Hi",
		},
		{
			name:     "missing body is empty",
			raw:      `<head><title>T</title></head>`,
			wantHead: `<base href="https://demo.test/a"><title>T</title>`,
			wantBody: ``,
		},
		{
			name:     "plain text has neither",
			raw:      `just some text`,
			wantHead: `<base href="https://demo.test/a">`,
			wantBody: ``,
		},
		{
			name:     "header element is not a head",
			raw:      `<body><header>nav</header></body>`,
			wantHead: `<base href="https://demo.test/a">`,
			wantBody: `<header>nav</header>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.raw, target)
			assert.Equal(t, tt.wantHead, got.Head)
			assert.Equal(t, tt.wantBody, got.Body)
		})
	}
}

func TestNormalizeBodyUnmodified(t *testing.T) {
	body := `<img src="/logo.png"><a href="page2.html" onclick="go()">next</a><script>var a = "</div>";</script>`
	got := Normalize("<html><head></head><body>"+body+"</body></html>", "https://demo.test/")
	assert.Equal(t, body, got.Body)
}

func TestBaseTagEscapesAttribute(t *testing.T) {
	got := BaseTag(`https://demo.test/?q="><script>x</script>`)
	assert.False(t, strings.Contains(got, `"><script>`))
	assert.Contains(t, got, "&#34;&gt;&lt;script&gt;")
}

func TestHasBase(t *testing.T) {
	assert.True(t, HasBase(`<BASE HREF="/x/">`))
	assert.False(t, HasBase(`<title>&lt;base&gt; tags explained</title>`))
	assert.False(t, HasBase(`<!-- <base href="/"> -->`))
	assert.False(t, HasBase(`<link rel="stylesheet" href="a.css">`))
}
