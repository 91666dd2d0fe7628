package artifact

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/llmstxt-crawler/internal/crawler"
	"github.com/JakeFAU/llmstxt-crawler/internal/hash/sha256"
	pubmemory "github.com/JakeFAU/llmstxt-crawler/internal/publisher/memory"
	"github.com/JakeFAU/llmstxt-crawler/internal/render"
	"github.com/JakeFAU/llmstxt-crawler/internal/storage/memory"
)

type failingRenderer struct{}

func (failingRenderer) Render(string, []crawler.PageRecord) ([]byte, error) {
	return nil, errors.New("boom")
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(nil, sha256.New(), memory.NewBlobStore(), nil, Config{})
	require.Error(t, err)
}

func TestBuildStoreNotify(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	notifier := pubmemory.New()
	p, err := New(render.LLMSTxt{}, sha256.New(), blobs, notifier, Config{Prefix: "/llms/", Topic: "llms-updates"})
	require.NoError(t, err)

	pages := []crawler.PageRecord{{URL: "https://example.com", Title: "Example", Description: "Home"}}
	doc, err := p.Build("https://example.com", pages)
	require.NoError(t, err)
	require.Len(t, doc.Hash, 64)
	require.Contains(t, string(doc.Body), "# Example")

	again, err := p.Build("https://example.com", pages)
	require.NoError(t, err)
	require.Equal(t, doc.Hash, again.Hash)

	uri, err := p.Store(context.Background(), doc)
	require.NoError(t, err)
	require.Equal(t, "memory://llms/c984d06aafbecf6bc55569f964148ea3.txt", uri)
	body, contentType, ok := blobs.Get("llms/c984d06aafbecf6bc55569f964148ea3.txt")
	require.True(t, ok)
	require.Equal(t, ContentType, contentType)
	require.Equal(t, doc.Body, body)

	evt := Event{BaseURL: doc.BaseURL, PublishedURL: uri, ContentHash: doc.Hash, Reason: ReasonCrawl, Timestamp: time.Unix(10, 0)}
	require.NoError(t, p.Notify(context.Background(), evt))
	msgs := notifier.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "llms-updates", msgs[0].Topic)
	require.Equal(t, evt, msgs[0].Payload)
}

func TestNotifyWithoutTopicIsNoop(t *testing.T) {
	t.Parallel()

	notifier := pubmemory.New()
	p, err := New(render.LLMSTxt{}, sha256.New(), memory.NewBlobStore(), notifier, Config{})
	require.NoError(t, err)
	require.NoError(t, p.Notify(context.Background(), Event{}))
	require.Empty(t, notifier.Messages())
	require.Equal(t, "llms/c984d06aafbecf6bc55569f964148ea3.txt", p.ObjectPath("https://example.com"))
}

func TestBuildAndNotifyErrors(t *testing.T) {
	t.Parallel()

	notifier := pubmemory.New()
	notifier.FailWith(errors.New("unavailable"))
	p, err := New(failingRenderer{}, sha256.New(), memory.NewBlobStore(), notifier, Config{Topic: "t"})
	require.NoError(t, err)

	_, err = p.Build("https://example.com", nil)
	require.ErrorContains(t, err, "render https://example.com")
	require.ErrorContains(t, p.Notify(context.Background(), Event{}), "unavailable")
}
