// Package artifact renders crawled pages into an llms.txt document, stores
// it in the blob store, and announces new versions to subscribers.
package artifact

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // object naming only
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/llmstxt-crawler/internal/crawler"
)

// ContentType is stored alongside every published document.
const ContentType = "text/plain; charset=utf-8"

// DefaultPrefix is the object prefix used when Config.Prefix is empty.
const DefaultPrefix = "llms"

// Event reasons attached to notifications.
const (
	ReasonCrawl   = "crawl"
	ReasonRecrawl = "recrawl"
)

// Config controls object naming and the notification topic.
type Config struct {
	Prefix string
	// Topic may be empty to disable notifications.
	Topic string
}

// Document is a rendered llms.txt and its digest.
type Document struct {
	BaseURL string
	Body    []byte
	Hash    string
}

// Event is the notification payload published after a new document lands.
type Event struct {
	BaseURL      string    `json:"base_url"`
	JobID        string    `json:"job_id,omitempty"`
	PublishedURL string    `json:"llms_txt_url"`
	ContentHash  string    `json:"content_hash"`
	Pages        int       `json:"pages"`
	Reason       string    `json:"reason"`
	Timestamp    time.Time `json:"timestamp"`
}

// Publisher turns page lists into published documents.
type Publisher struct {
	renderer crawler.Renderer
	hasher   crawler.Hasher
	blobs    crawler.BlobStore
	notifier crawler.Publisher
	cfg      Config
}

// New builds a Publisher. notifier may be nil.
func New(
	renderer crawler.Renderer,
	hasher crawler.Hasher,
	blobs crawler.BlobStore,
	notifier crawler.Publisher,
	cfg Config,
) (*Publisher, error) {
	if renderer == nil || hasher == nil || blobs == nil {
		return nil, errors.New("artifact: renderer, hasher, and blob store are required")
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	return &Publisher{
		renderer: renderer,
		hasher:   hasher,
		blobs:    blobs,
		notifier: notifier,
		cfg:      cfg,
	}, nil
}

// Build renders and hashes the document for baseURL.
func (p *Publisher) Build(baseURL string, pages []crawler.PageRecord) (Document, error) {
	body, err := p.renderer.Render(baseURL, pages)
	if err != nil {
		return Document{}, fmt.Errorf("render %s: %w", baseURL, err)
	}
	hash, err := p.hasher.Hash(body)
	if err != nil {
		return Document{}, fmt.Errorf("hash document: %w", err)
	}
	return Document{BaseURL: baseURL, Body: body, Hash: hash}, nil
}

// Store writes doc to its stable object path and returns the public URL.
func (p *Publisher) Store(ctx context.Context, doc Document) (string, error) {
	uri, err := p.blobs.PutObject(ctx, p.ObjectPath(doc.BaseURL), ContentType, bytes.NewReader(doc.Body))
	if err != nil {
		return "", fmt.Errorf("store document: %w", err)
	}
	return uri, nil
}

// Notify publishes evt to the configured topic. It is a no-op without one.
func (p *Publisher) Notify(ctx context.Context, evt Event) error {
	if p.notifier == nil || p.cfg.Topic == "" {
		return nil
	}
	if _, err := p.notifier.Publish(ctx, p.cfg.Topic, evt); err != nil {
		return fmt.Errorf("notify %s: %w", p.cfg.Topic, err)
	}
	return nil
}

// ObjectPath names a site's document by the MD5 of its base URL so that
// every crawl of the same site overwrites one object.
func (p *Publisher) ObjectPath(baseURL string) string {
	sum := md5.Sum([]byte(baseURL)) //nolint:gosec // object naming only
	return p.cfg.Prefix + "/" + hex.EncodeToString(sum[:]) + ".txt"
}
