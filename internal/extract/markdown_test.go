package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkdown(t *testing.T) {
	t.Parallel()

	page := `<html><head><title>ignored</title><script>var a = 1;</script></head>
<body>
  <h2>Days</h2>
  <p>Visit <a href="/a">the <b>page</b></a> now</p>
  <p><strong>Bold</strong>   text</p>
  <style>.x { color: red; }</style>
  <ul><li><a href="#top">Top</a></li><li><a href="javascript:void(0)">Menu</a></li></ul>
</body></html>`

	got, err := Markdown([]byte(page))
	require.NoError(t, err)
	assert.Equal(t, "## Days\nVisit [the page](/a) now\n**Bold** text\nTop\nMenu", got)
}

func TestMarkdownKeepsEntriesOnSeparateLines(t *testing.T) {
	t.Parallel()

	page := `<div class="row"><div class="title"><a href="https://example.org/x">World Health Day [WHO]</a></div><div class="date">7 Apr</div></div>`
	got, err := Markdown([]byte(page))
	require.NoError(t, err)
	assert.Equal(t, "[World Health Day [WHO]](https://example.org/x)\n7 Apr", got)
}

func TestMarkdownEmpty(t *testing.T) {
	t.Parallel()

	got, err := Markdown(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
