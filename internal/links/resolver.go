// Package links turns raw message text into commerce item references:
// URL extraction, brand filtering, short-link expansion, and canonical
// (shopId, itemId) matching.
package links

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	resolveTimeout = 5 * time.Second
	maxRedirects   = 10
)

var (
	urlPattern    = regexp.MustCompile(`\bhttps?://\S+`)
	pathPattern   = regexp.MustCompile(`/product/(\d+)/(\d+)`)
	inlinePattern = regexp.MustCompile(`\bi\.(\d+)\.(\d+)\b`)
	digitsOnly    = regexp.MustCompile(`^\d+$`)

	brandSubstrings = []string{"shopee", "shope.ee", "s.shopee.com.br"}
	shortLinkHosts  = []string{"shope.ee", "s.shopee.com.br"}
)

// ItemRef identifies a product on the commerce platform.
type ItemRef struct {
	ShopID string
	ItemID string
}

// Zero reports whether no reference was found.
func (r ItemRef) Zero() bool {
	return r.ShopID == "" && r.ItemID == ""
}

// ExtractBrandURLs returns, in order of appearance, every URL in text that
// looks like a commerce link of interest.
func ExtractBrandURLs(text string) []string {
	var out []string
	for _, raw := range urlPattern.FindAllString(text, -1) {
		for _, brand := range brandSubstrings {
			if strings.Contains(raw, brand) {
				out = append(out, raw)
				break
			}
		}
	}
	return out
}

// Resolver resolves a raw URL to an ItemRef, expanding short links first.
type Resolver struct {
	client *http.Client
	logger *slog.Logger
}

// NewResolver creates a Resolver with a bounded redirect-following client.
func NewResolver(log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		client: &http.Client{
			Timeout: resolveTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		logger: log.With(slog.String("component", "links")),
	}
}

// Resolve maps a raw URL to an ItemRef. Short links are expanded with a HEAD
// request; any network failure falls back to matching the original URL, so
// Resolve never fails outright — a zero ItemRef means "not a resolvable
// commerce link".
func (r *Resolver) Resolve(ctx context.Context, rawURL string) ItemRef {
	target := rawURL
	if isShortLink(rawURL) {
		if final, ok := r.expand(ctx, rawURL); ok {
			target = final
		}
	}
	return matchItemRef(target)
}

func isShortLink(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Host)
	for _, short := range shortLinkHosts {
		if host == short || strings.HasSuffix(host, "."+short) {
			return true
		}
	}
	return false
}

func (r *Resolver) expand(ctx context.Context, rawURL string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug("short link expansion failed", slog.String("url", rawURL), slog.Any("error", err))
		return "", false
	}
	defer resp.Body.Close()
	if resp.Request == nil || resp.Request.URL == nil {
		return "", false
	}
	return resp.Request.URL.String(), true
}

// matchItemRef tries the three known URL shapes in order: the product path,
// then query parameters, then the inline i.shop.item form.
func matchItemRef(rawURL string) ItemRef {
	if m := pathPattern.FindStringSubmatch(rawURL); m != nil {
		return ItemRef{ShopID: m[1], ItemID: m[2]}
	}
	if u, err := url.Parse(rawURL); err == nil {
		q := u.Query()
		itemID := q.Get("itemId")
		shopID := q.Get("shopId")
		// Query values are attacker-controlled text; only numeric ids count.
		if digitsOnly.MatchString(itemID) && digitsOnly.MatchString(shopID) {
			return ItemRef{ShopID: shopID, ItemID: itemID}
		}
	}
	if m := inlinePattern.FindStringSubmatch(rawURL); m != nil {
		return ItemRef{ShopID: m[1], ItemID: m[2]}
	}
	return ItemRef{}
}
