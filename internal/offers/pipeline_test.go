package offers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promozap/promozap/internal/links"
	"github.com/promozap/promozap/internal/pricing"
	"github.com/promozap/promozap/internal/shopee"
	"github.com/promozap/promozap/internal/transport"
)

const (
	monitored = "group-monitored@g.us"
	target    = "group-target@g.us"
)

type fakeResolver struct {
	mu   sync.Mutex
	urls []string
	ref  links.ItemRef
}

func (r *fakeResolver) Resolve(ctx context.Context, rawURL string) links.ItemRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, rawURL)
	return r.ref
}

type fakeFetcher struct {
	offer *shopee.Offer
	err   error
}

func (f *fakeFetcher) FetchOffer(ctx context.Context, itemID, shopID string) (*shopee.Offer, error) {
	return f.offer, f.err
}

type fakeWriter struct{}

func (fakeWriter) Generate(ctx context.Context, productName string) string {
	return "Promoção imperdível de " + productName + "!"
}

type countingDedup struct {
	mu       sync.Mutex
	observed []string
	seen     map[string]bool
}

func (d *countingDedup) Observe(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observed = append(d.observed, id)
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	if d.seen[id] {
		return false
	}
	d.seen[id] = true
	return true
}

func (d *countingDedup) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.observed)
}

type sentImage struct {
	conversation string
	imageURL     string
	caption      string
}

type sentText struct {
	conversation string
	text         string
}

type fakeSender struct {
	mu     sync.Mutex
	images []sentImage
	texts  []sentText
}

func (s *fakeSender) SendText(ctx context.Context, conversationID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, sentText{conversation: conversationID, text: text})
	return nil
}

func (s *fakeSender) SendImage(ctx context.Context, conversationID, imageURL, caption string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = append(s.images, sentImage{conversation: conversationID, imageURL: imageURL, caption: caption})
	return nil
}

func (s *fakeSender) Logout(ctx context.Context) error { return nil }

func (s *fakeSender) sendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images) + len(s.texts)
}

func testOffer() *shopee.Offer {
	return &shopee.Offer{
		ItemID:          "222",
		ShopID:          "111",
		ProductName:     "Fone BT",
		Price:           "150000",
		DiscountPercent: 20,
		OfferLink:       "https://short/offer",
		ImageURL:        "https://img/1.jpg",
	}
}

func newTestPipeline(resolver *fakeResolver, fetcher *fakeFetcher, dedup *countingDedup) *Pipeline {
	return NewPipeline(nil, monitored, target, resolver, fetcher, fakeWriter{}, dedup)
}

func message(text string) transport.Message {
	return transport.Message{
		ID:           "msg-1",
		Conversation: monitored,
		Text:         text,
		Timestamp:    time.Now(),
	}
}

func TestHandleOwnMessageSkippedBeforeDedup(t *testing.T) {
	t.Parallel()

	dedup := &countingDedup{}
	sender := &fakeSender{}
	p := newTestPipeline(&fakeResolver{}, &fakeFetcher{}, dedup)

	msg := message("https://shopee.com.br/product/111/222")
	msg.FromSelf = true
	p.Handle(context.Background(), msg, sender)

	assert.Zero(t, dedup.count(), "own messages must not consume a dedup entry")
	assert.Zero(t, sender.sendCount())
}

func TestHandleEmptyTextSkippedBeforeDedup(t *testing.T) {
	t.Parallel()

	dedup := &countingDedup{}
	sender := &fakeSender{}
	p := newTestPipeline(&fakeResolver{}, &fakeFetcher{}, dedup)

	p.Handle(context.Background(), message("   "), sender)

	assert.Zero(t, dedup.count())
	assert.Zero(t, sender.sendCount())
}

func TestHandleDuplicateProcessedOnce(t *testing.T) {
	t.Parallel()

	dedup := &countingDedup{}
	sender := &fakeSender{}
	resolver := &fakeResolver{ref: links.ItemRef{ShopID: "111", ItemID: "222"}}
	p := newTestPipeline(resolver, &fakeFetcher{offer: testOffer()}, dedup)

	msg := message("https://shopee.com.br/product/111/222")
	p.Handle(context.Background(), msg, sender)
	p.Handle(context.Background(), msg, sender)

	assert.Equal(t, 1, sender.sendCount())
	assert.Equal(t, 2, dedup.count())
}

func TestHandleOtherConversationIgnored(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	resolver := &fakeResolver{ref: links.ItemRef{ShopID: "111", ItemID: "222"}}
	p := newTestPipeline(resolver, &fakeFetcher{offer: testOffer()}, &countingDedup{})

	msg := message("https://shopee.com.br/product/111/222")
	msg.Conversation = "someone-else@s.whatsapp.net"
	p.Handle(context.Background(), msg, sender)

	assert.Zero(t, sender.sendCount())
}

func TestHandleNoBrandURLNoSends(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	p := newTestPipeline(&fakeResolver{}, &fakeFetcher{}, &countingDedup{})

	p.Handle(context.Background(), message("promoção em https://example.com/x"), sender)

	assert.Zero(t, sender.sendCount())
}

func TestHandleFirstLinkOnly(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	resolver := &fakeResolver{ref: links.ItemRef{ShopID: "111", ItemID: "222"}}
	p := newTestPipeline(resolver, &fakeFetcher{offer: testOffer()}, &countingDedup{})

	p.Handle(context.Background(),
		message("https://shopee.com.br/a https://shopee.com.br/b"), sender)

	require.Len(t, resolver.urls, 1)
	assert.Equal(t, "https://shopee.com.br/a", resolver.urls[0])
}

func TestHandlePublishesImageWithCaption(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	resolver := &fakeResolver{ref: links.ItemRef{ShopID: "111", ItemID: "222"}}
	p := newTestPipeline(resolver, &fakeFetcher{offer: testOffer()}, &countingDedup{})

	p.Handle(context.Background(), message("https://shopee.com.br/product/111/222"), sender)

	require.Len(t, sender.images, 1)
	sent := sender.images[0]
	assert.Equal(t, target, sent.conversation)
	assert.Equal(t, "https://img/1.jpg", sent.imageURL)
	assert.Contains(t, sent.caption, "*Fone BT*")
	assert.Contains(t, sent.caption, "~De R$ 1.875,00~")
	assert.Contains(t, sent.caption, "*Por apenas R$ 1.500,00* (20% OFF)")
	assert.Contains(t, sent.caption, "Promoção imperdível de Fone BT!")
	assert.Contains(t, sent.caption, "https://short/offer")
	assert.Contains(t, sent.caption, disclaimer)
}

func TestHandleNoImageFallsBackToText(t *testing.T) {
	t.Parallel()

	offer := testOffer()
	offer.ImageURL = ""
	sender := &fakeSender{}
	resolver := &fakeResolver{ref: links.ItemRef{ShopID: "111", ItemID: "222"}}
	p := newTestPipeline(resolver, &fakeFetcher{offer: offer}, &countingDedup{})

	p.Handle(context.Background(), message("https://shopee.com.br/product/111/222"), sender)

	require.Len(t, sender.texts, 1)
	assert.Empty(t, sender.images)
	assert.Contains(t, sender.texts[0].text, "*Fone BT*")
}

func TestHandleResolutionMissSendsFallback(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	p := newTestPipeline(&fakeResolver{}, &fakeFetcher{}, &countingDedup{})

	p.Handle(context.Background(), message("corre https://shopee.com.br/flash-sale"), sender)

	require.Len(t, sender.texts, 1)
	assert.Equal(t, target, sender.texts[0].conversation)
	assert.Contains(t, sender.texts[0].text, "https://shopee.com.br/flash-sale")
}

func TestHandleFetchFailureSendsFallback(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	resolver := &fakeResolver{ref: links.ItemRef{ShopID: "111", ItemID: "222"}}
	p := newTestPipeline(resolver, &fakeFetcher{err: errors.New("api down")}, &countingDedup{})

	p.Handle(context.Background(), message("https://shopee.com.br/product/111/222"), sender)

	require.Len(t, sender.texts, 1)
	assert.Contains(t, sender.texts[0].text, "https://shopee.com.br/product/111/222")
}

func TestFormatCaptionWithoutDiscount(t *testing.T) {
	t.Parallel()

	offer := testOffer()
	offer.DiscountPercent = 0
	offer.Price = "45"

	caption := formatCaption(offer, pricing.Normalize(offer.Price, 0), "Leve já!")
	assert.Contains(t, caption, "*Por apenas R$ 45,00*")
	assert.NotContains(t, caption, "~De")
	assert.NotContains(t, caption, "OFF")
}

func TestFormatBRL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		value float64
		want  string
	}{
		{value: 45, want: "R$ 45,00"},
		{value: 99.9, want: "R$ 99,90"},
		{value: 1500, want: "R$ 1.500,00"},
		{value: 1234567.89, want: "R$ 1.234.567,89"},
		{value: 0, want: "R$ 0,00"},
	}

	for _, tc := range cases {
		if got := formatBRL(tc.value); got != tc.want {
			t.Fatalf("formatBRL(%v) = %q, want %q", tc.value, got, tc.want)
		}
	}
}
