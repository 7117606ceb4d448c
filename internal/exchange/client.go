package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/skalibog/bybit-mcp/internal/config"
	"github.com/skalibog/bybit-mcp/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Адреса Bybit V5
const (
	MainnetURL       = "https://api.bybit.com"
	TestnetURL       = "https://api-testnet.bybit.com"
	MainnetStreamURL = "wss://stream.bybit.com/v5/private"
	TestnetStreamURL = "wss://stream-testnet.bybit.com/v5/private"
)

// Client клиент для взаимодействия с Bybit V5 REST API.
// Безопасен для конкурентного использования.
type Client struct {
	http         *resty.Client
	limiter      *rate.Limiter
	apiKey       string
	apiSecret    string
	recvWindow   string
	streamURL    string
	pingInterval time.Duration
	now          func() time.Time
}

// NewClient создает новый клиент Bybit
func NewClient(cfg config.ExchangeConfig, creds config.Credentials) *Client {
	baseURL, streamURL := MainnetURL, MainnetStreamURL
	if creds.Testnet {
		baseURL, streamURL = TestnetURL, TestnetStreamURL
	}
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}
	if cfg.StreamURL != "" {
		streamURL = cfg.StreamURL
	}

	recvWindow := cfg.RecvWindow
	if recvWindow <= 0 {
		recvWindow = 5000
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}
	ping := cfg.PingInterval
	if ping <= 0 {
		ping = 20 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "bybit-mcp")

	return &Client{
		http:         httpClient,
		limiter:      rate.NewLimiter(limit, 1),
		apiKey:       creds.APIKey,
		apiSecret:    creds.APISecret,
		recvWindow:   strconv.Itoa(recvWindow),
		streamURL:    streamURL,
		pingInterval: ping,
		now:          time.Now,
	}
}

// sign вычисляет подпись V5: HMAC_SHA256(secret, timestamp+apiKey+recvWindow+payload)
func (c *Client) sign(timestamp, payload string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(timestamp + c.apiKey + c.recvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) signHeaders(req *resty.Request, payload string) {
	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)
	req.SetHeader("X-BAPI-API-KEY", c.apiKey).
		SetHeader("X-BAPI-TIMESTAMP", timestamp).
		SetHeader("X-BAPI-RECV-WINDOW", c.recvWindow).
		SetHeader("X-BAPI-SIGN-TYPE", "2").
		SetHeader("X-BAPI-SIGN", c.sign(timestamp, payload))
}

// publicGet выполняет публичный GET запрос
func (c *Client) publicGet(ctx context.Context, path string, params url.Values, out any) error {
	req := c.http.R().SetContext(ctx)
	if len(params) > 0 {
		req.SetQueryString(params.Encode())
	}
	return c.do(ctx, req, http.MethodGet, path, out)
}

// signedGet выполняет подписанный GET запрос
func (c *Client) signedGet(ctx context.Context, path string, params url.Values, out any) error {
	query := params.Encode()
	req := c.http.R().SetContext(ctx)
	if query != "" {
		req.SetQueryString(query)
	}
	c.signHeaders(req, query)
	return c.do(ctx, req, http.MethodGet, path, out)
}

// signedPost выполняет подписанный POST запрос с JSON телом
func (c *Client) signedPost(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("ошибка сериализации запроса %s: %w", path, err)
	}
	req := c.http.R().SetContext(ctx).SetBody(payload)
	c.signHeaders(req, string(payload))
	return c.do(ctx, req, http.MethodPost, path, out)
}

// do выполняет запрос и разбирает конверт ответа
func (c *Client) do(ctx context.Context, req *resty.Request, method, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &TransientError{Op: path, Err: err}
	}

	started := c.now()
	resp, err := req.Execute(method, path)
	if err != nil {
		if env, ok := ParseEmbeddedError(err.Error()); ok && env.RetCode != 0 {
			return env.Err()
		}
		return &TransientError{Op: path, Err: err}
	}

	logger.Debug("Запрос к Bybit",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("elapsed", c.now().Sub(started)))

	body := resp.Body()
	if resp.StatusCode() >= http.StatusInternalServerError {
		return &TransientError{Op: path, StatusCode: resp.StatusCode(), Err: fmt.Errorf("%s", resp.Status())}
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if embedded, ok := ParseEmbeddedError(string(body)); ok && embedded.RetCode != 0 {
			return embedded.Err()
		}
		if resp.StatusCode() >= http.StatusBadRequest {
			return &APIError{Message: resp.Status(), HTTPStatus: resp.StatusCode()}
		}
		return fmt.Errorf("ошибка разбора ответа %s: %w", path, err)
	}
	if apiErr := env.Err(); apiErr != nil {
		return apiErr
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		return &APIError{Message: resp.Status(), HTTPStatus: resp.StatusCode()}
	}

	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("ошибка разбора result %s: %w", path, err)
	}
	return nil
}

// listResult обертка result.list
type listResult[T any] struct {
	Category       string `json:"category"`
	List           []T    `json:"list"`
	NextPageCursor string `json:"nextPageCursor"`
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func optionalFloat(s string) *float64 {
	v := parseFloat(s)
	if v == 0 {
		return nil
	}
	return &v
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
