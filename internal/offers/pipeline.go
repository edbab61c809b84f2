// Package offers turns monitored-conversation messages into formatted offer
// posts in the target conversation.
package offers

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/promozap/promozap/internal/links"
	"github.com/promozap/promozap/internal/pricing"
	"github.com/promozap/promozap/internal/shopee"
	"github.com/promozap/promozap/internal/transport"
)

const disclaimer = "_Promoção sujeita a alteração de preço e disponibilidade._"

// Fetcher fetches live offer data for a resolved item.
type Fetcher interface {
	FetchOffer(ctx context.Context, itemID, shopID string) (*shopee.Offer, error)
}

// Copywriter produces promotional copy for a product name.
type Copywriter interface {
	Generate(ctx context.Context, productName string) string
}

// Resolver resolves a raw URL to an item reference.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) links.ItemRef
}

// Deduper reports whether a message id is new within the dedup window.
type Deduper interface {
	Observe(id string) bool
}

// Pipeline handles inbound messages: eligibility, dedup, link resolution,
// offer fetch, price normalization, copy generation, and republication.
type Pipeline struct {
	monitoredJID string
	targetJID    string

	resolver Resolver
	fetcher  Fetcher
	writer   Copywriter
	dedup    Deduper
	logger   *slog.Logger
}

// NewPipeline wires the pipeline collaborators.
func NewPipeline(log *slog.Logger, monitoredJID, targetJID string, resolver Resolver, fetcher Fetcher, writer Copywriter, dedup Deduper) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		monitoredJID: monitoredJID,
		targetJID:    targetJID,
		resolver:     resolver,
		fetcher:      fetcher,
		writer:       writer,
		dedup:        dedup,
		logger:       log.With(slog.String("component", "offers")),
	}
}

// Handle processes one inbound message. Ineligible messages (own sends, empty
// text) are dropped before the dedup window so they never consume an entry.
// Only the first commerce link in a message is processed.
func (p *Pipeline) Handle(ctx context.Context, msg transport.Message, sender transport.Client) {
	if msg.FromSelf || strings.TrimSpace(msg.Text) == "" {
		return
	}
	if !p.dedup.Observe(msg.ID) {
		p.logger.Debug("duplicate message skipped", slog.String("message_id", msg.ID))
		return
	}
	if msg.Conversation != p.monitoredJID {
		return
	}

	urls := links.ExtractBrandURLs(msg.Text)
	if len(urls) == 0 {
		return
	}
	rawURL := urls[0]

	ref := p.resolver.Resolve(ctx, rawURL)
	if ref.Zero() {
		p.sendMiss(ctx, sender, rawURL)
		return
	}

	offer, err := p.fetcher.FetchOffer(ctx, ref.ItemID, ref.ShopID)
	if err != nil {
		p.logger.Warn("offer fetch failed",
			slog.String("item_id", ref.ItemID),
			slog.String("shop_id", ref.ShopID),
			slog.Any("error", err))
		p.sendMiss(ctx, sender, rawURL)
		return
	}
	if offer == nil {
		p.sendMiss(ctx, sender, rawURL)
		return
	}

	prices := pricing.Normalize(offer.Price, offer.DiscountPercent)
	promo := p.writer.Generate(ctx, offer.ProductName)
	caption := formatCaption(offer, prices, promo)

	if offer.ImageURL != "" {
		err = sender.SendImage(ctx, p.targetJID, offer.ImageURL, caption)
	} else {
		err = sender.SendText(ctx, p.targetJID, caption)
	}
	if err != nil {
		p.logger.Error("offer publish failed",
			slog.String("item_id", offer.ItemID),
			slog.Any("error", err))
		return
	}
	p.logger.Info("offer published",
		slog.String("item_id", offer.ItemID),
		slog.String("shop_id", offer.ShopID),
		slog.String("product", offer.ProductName))
}

// sendMiss posts a plain message naming the link that could not be resolved,
// so the target conversation still sees the find.
func (p *Pipeline) sendMiss(ctx context.Context, sender transport.Client, rawURL string) {
	text := fmt.Sprintf("🔗 Achado do dia: %s\n\nNão consegui puxar os detalhes da oferta agora, mas o link está valendo!", rawURL)
	if err := sender.SendText(ctx, p.targetJID, text); err != nil {
		p.logger.Error("fallback publish failed", slog.Any("error", err))
	}
}

// formatCaption builds the offer post using WhatsApp markdown (*bold*,
// ~strikethrough~, _italic_).
func formatCaption(offer *shopee.Offer, prices pricing.Prices, promo string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n\n", offer.ProductName)
	if offer.DiscountPercent > 0 && prices.Original > prices.Current {
		fmt.Fprintf(&b, "~De %s~\n", formatBRL(prices.Original))
		fmt.Fprintf(&b, "*Por apenas %s* (%d%% OFF)\n\n", formatBRL(prices.Current), int(offer.DiscountPercent))
	} else {
		fmt.Fprintf(&b, "*Por apenas %s*\n\n", formatBRL(prices.Current))
	}
	fmt.Fprintf(&b, "%s\n\n", promo)
	fmt.Fprintf(&b, "👉 Compre aqui: %s\n\n", offer.OfferLink)
	b.WriteString(disclaimer)
	return b.String()
}

// formatBRL renders a value as Brazilian currency: dot-separated thousands,
// comma decimals.
func formatBRL(value float64) string {
	s := strconv.FormatFloat(value, 'f', 2, 64)
	whole, frac, _ := strings.Cut(s, ".")

	var grouped strings.Builder
	for i, digit := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteRune(digit)
	}
	return fmt.Sprintf("R$ %s,%s", grouped.String(), frac)
}
