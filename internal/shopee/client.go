// Package shopee calls the affiliate open API with signed GraphQL requests.
package shopee

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/promozap/promozap/internal/config"
)

// ErrAPIFailure marks transport errors, non-success statuses, and GraphQL
// error responses. Callers treat it as "offer not available right now".
var ErrAPIFailure = errors.New("affiliate api failure")

// Ids are interpolated into the GraphQL query; only digits may pass.
var digitsOnly = regexp.MustCompile(`^\d+$`)

// Offer is one priced product returned by the affiliate API. Price is the
// raw field as sent by the API; normalization happens downstream.
type Offer struct {
	ItemID          string
	ShopID          string
	ProductName     string
	Price           string
	DiscountPercent float64
	OfferLink       string
	ImageURL        string
}

// Client executes signed affiliate API calls.
type Client struct {
	appID   string
	secret  string
	baseURL string
	http    *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

// NewClient creates an affiliate API client from config.
func NewClient(log *slog.Logger, cfg config.ShopeeConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		appID:   cfg.AppID,
		secret:  cfg.Secret,
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout()},
		logger:  log.With(slog.String("component", "shopee")),
		now:     time.Now,
	}
}

type graphqlRequest struct {
	Query string `json:"query"`
}

type offerNode struct {
	ItemID            json.Number `json:"itemId"`
	ShopID            json.Number `json:"shopId"`
	ProductName       string      `json:"productName"`
	Price             string      `json:"price"`
	PriceDiscountRate float64     `json:"priceDiscountRate"`
	OfferLink         string      `json:"offerLink"`
	ImageURL          string      `json:"imageUrl"`
}

type graphqlResponse struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
	Data struct {
		ProductOfferV2 struct {
			Nodes []offerNode `json:"nodes"`
		} `json:"productOfferV2"`
	} `json:"data"`
}

// FetchOffer fetches live offer data for one item. A (nil, nil) return means
// the API answered but had no offer for the item; errors are wrapped in
// ErrAPIFailure and carry no retry semantics — the next inbound message is
// the retry.
func (c *Client) FetchOffer(ctx context.Context, itemID, shopID string) (*Offer, error) {
	if !digitsOnly.MatchString(itemID) || !digitsOnly.MatchString(shopID) {
		return nil, fmt.Errorf("%w: non-numeric item reference", ErrAPIFailure)
	}
	query := fmt.Sprintf(
		`{productOfferV2(itemId: %s, shopId: %s){nodes{itemId shopId productName price priceDiscountRate offerLink imageUrl}}}`,
		itemID, shopID)
	payload, err := json.Marshal(graphqlRequest{Query: query})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal query: %v", ErrAPIFailure, err)
	}

	ts := c.now().Unix()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAPIFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.authorization(ts, payload))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAPIFailure, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: http status %d", ErrAPIFailure, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrAPIFailure, err)
	}
	var parsed graphqlResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode body: %v", ErrAPIFailure, err)
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrAPIFailure, parsed.Errors[0].Message)
	}

	nodes := parsed.Data.ProductOfferV2.Nodes
	if len(nodes) == 0 {
		c.logger.Debug("no offer nodes", slog.String("item_id", itemID), slog.String("shop_id", shopID))
		return nil, nil
	}
	// Only the first node is consumed; additional nodes are ignored.
	node := nodes[0]
	return &Offer{
		ItemID:          node.ItemID.String(),
		ShopID:          node.ShopID.String(),
		ProductName:     node.ProductName,
		Price:           node.Price,
		DiscountPercent: node.PriceDiscountRate,
		OfferLink:       node.OfferLink,
		ImageURL:        node.ImageURL,
	}, nil
}

// authorization builds the signed header:
//
//	SHA256 Credential=<appId>, Timestamp=<unix>, Signature=<hex>
//
// where the signature is sha256(appId ‖ timestamp ‖ payload ‖ secret).
func (c *Client) authorization(ts int64, payload []byte) string {
	material := fmt.Sprintf("%s%d%s%s", c.appID, ts, payload, c.secret)
	sum := sha256.Sum256([]byte(material))
	return fmt.Sprintf("SHA256 Credential=%s, Timestamp=%d, Signature=%s",
		c.appID, ts, hex.EncodeToString(sum[:]))
}
