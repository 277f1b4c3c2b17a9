package objectclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/kbforge/internal/core"
)

func TestDocumentKey(t *testing.T) {
	assert.Equal(t, "chatbots/bot/documents/doc/v2/faq.pdf", DocumentKey("bot", "doc", 2, "faq.pdf"))
	assert.Equal(t, "chatbots/bot/documents/doc/v1/faq.pdf", DocumentKey("bot", "doc", 1, `C:\Users\me\faq.pdf`))
	assert.Equal(t, "chatbots/bot/documents/doc/v1/passwd", DocumentKey("bot", "doc", 1, "../../etc/passwd"))
	assert.Equal(t, "chatbots/bot/documents/doc/v1/upload", DocumentKey("bot", "doc", 1, ""))
}

func TestMemoryObjectClient(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryObjectClient()

	url, err := m.UploadFile(ctx, "k/1", []byte("hello"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "mem://k/1", url)

	data, err := m.GetFile(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	// returned bytes are a copy
	data[0] = 'J'
	again, _ := m.GetFile(ctx, url)
	assert.Equal(t, []byte("hello"), again)

	require.NoError(t, m.DeleteFile(ctx, url))
	_, err = m.GetFile(ctx, url)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Zero(t, m.Len())
}

func TestS3Client_KeyFor(t *testing.T) {
	c := &S3Client{bucket: "docs", region: "us-east-2"}
	key := DocumentKey("bot", "doc", 1, "a.txt")

	got, err := c.keyFor(c.urlFor(key))
	require.NoError(t, err)
	assert.Equal(t, key, got)

	got, err = c.keyFor(key)
	require.NoError(t, err)
	assert.Equal(t, key, got)

	_, err = c.keyFor("https://other.s3.us-east-2.amazonaws.com/x")
	assert.Error(t, err)
}
