package parse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rssDoc = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example Blog</title>
    <link>https://example.com</link>
    <description>Posts about examples</description>
    <pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate>
    <item>
      <title>First Post</title>
      <link>https://example.com/first</link>
      <description>Short summary</description>
      <pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate>
    </item>
    <item>
      <title>Second Post</title>
      <link>https://example.com/second</link>
      <description>&lt;p&gt;Full &lt;b&gt;body&lt;/b&gt;&lt;/p&gt;</description>
      <pubDate>not a real date</pubDate>
    </item>
  </channel>
</rss>`

const atomDoc = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Example Atom</title>
  <link href="https://atom.example.com"/>
  <updated>2006-01-02T15:04:05Z</updated>
  <entry>
    <title>Atom Entry</title>
    <link href="https://atom.example.com/entry"/>
    <author><name>Jo Writer</name></author>
    <content type="html">&lt;p&gt;hello&lt;/p&gt;</content>
    <updated>2006-01-02T15:04:05Z</updated>
  </entry>
</feed>`

func TestParseRSS(t *testing.T) {
	feed, err := New().Parse([]byte(rssDoc), false)
	require.NoError(t, err)

	assert.Equal(t, "rss", feed.Format)
	assert.Equal(t, "Example Blog", feed.Title)
	assert.Equal(t, "https://example.com", feed.Link)
	assert.Equal(t, "Posts about examples", feed.Description)
	require.NotNil(t, feed.Published)

	require.Len(t, feed.Entries, 2)

	first := feed.Entries[0]
	assert.Equal(t, "First Post", first.Title)
	assert.Equal(t, "https://example.com/first", first.Link)
	assert.Equal(t, "Short summary", first.Content)
	require.NotNil(t, first.Published)
	assert.Equal(t, time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC), first.Published.UTC())

	// The bogus date is absent, not an error.
	second := feed.Entries[1]
	assert.Equal(t, "Second Post", second.Title)
	assert.Nil(t, second.Published)
}

func TestParseAtom(t *testing.T) {
	feed, err := New().Parse([]byte(atomDoc), false)
	require.NoError(t, err)

	assert.Equal(t, "atom", feed.Format)
	assert.Equal(t, "Example Atom", feed.Title)

	require.Len(t, feed.Entries, 1)
	entry := feed.Entries[0]
	assert.Equal(t, "Atom Entry", entry.Title)
	assert.Equal(t, "https://atom.example.com/entry", entry.Link)
	assert.Equal(t, "Jo Writer", entry.Author)
	assert.Equal(t, "<p>hello</p>", entry.Content)
	require.NotNil(t, entry.Published)
}

func TestParseSkipEntries(t *testing.T) {
	feed, err := New().Parse([]byte(rssDoc), true)
	require.NoError(t, err)

	assert.Equal(t, "Example Blog", feed.Title)
	assert.Empty(t, feed.Entries)
}

func TestParseMalformed(t *testing.T) {
	_, err := New().Parse([]byte("this is not a feed"), false)
	assert.Error(t, err)
}
