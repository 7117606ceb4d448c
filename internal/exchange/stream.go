package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/skalibog/bybit-mcp/pkg/logger"
	"github.com/skalibog/bybit-mcp/pkg/models"
	"go.uber.org/zap"
)

// PositionStream подписка на приватный топик position
type PositionStream struct {
	url          string
	apiKey       string
	apiSecret    string
	pingInterval time.Duration
	dialer       *websocket.Dialer
	backoff      *backoff.Backoff
	now          func() time.Time
}

// NewPositionStream создает подписку на обновления позиций
func (c *Client) NewPositionStream() *PositionStream {
	return &PositionStream{
		url:          c.streamURL,
		apiKey:       c.apiKey,
		apiSecret:    c.apiSecret,
		pingInterval: c.pingInterval,
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		backoff:      &backoff.Backoff{Min: time.Second, Max: 30 * time.Second, Factor: 2, Jitter: true},
		now:          time.Now,
	}
}

type wsRequest struct {
	ReqID string `json:"req_id,omitempty"`
	Op    string `json:"op"`
	Args  []any  `json:"args,omitempty"`
}

type wsMessage struct {
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	RetMsg  string          `json:"ret_msg"`
	Topic   string          `json:"topic"`
	Data    json.RawMessage `json:"data"`
}

// Run держит соединение и пишет обновления позиций в out, пока ctx не отменен.
// Обрыв соединения ведет к переподключению с экспоненциальной задержкой.
func (s *PositionStream) Run(ctx context.Context, out chan<- models.Position) error {
	for {
		err := s.session(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if IsAuthError(err) {
			return err
		}

		wait := s.backoff.Duration()
		logger.Warn("Соединение с потоком позиций прервано, переподключение",
			zap.Error(err), zap.Duration("wait", wait))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *PositionStream) session(ctx context.Context, out chan<- models.Position) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("ошибка подключения к %s: %w", s.url, err)
	}

	var writeMu sync.Mutex
	write := func(req wsRequest) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(req)
	}

	// Закрытие соединения прерывает чтение на границе кадра
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()

	if err := s.authenticate(conn, write); err != nil {
		return err
	}
	if err := write(wsRequest{Op: "subscribe", Args: []any{"position"}}); err != nil {
		return fmt.Errorf("ошибка подписки: %w", err)
	}
	s.backoff.Reset()
	logger.Info("Подписка на поток позиций активна", zap.String("url", s.url))

	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := write(wsRequest{Op: "ping"}); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("ошибка чтения потока: %w", err)
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debug("Неразборчивое сообщение потока", zap.ByteString("data", data))
			continue
		}
		if msg.Topic != "position" {
			if msg.Op == "subscribe" && msg.Success != nil && !*msg.Success {
				return fmt.Errorf("подписка отклонена: %s", msg.RetMsg)
			}
			continue
		}

		var raws []rawPosition
		if err := json.Unmarshal(msg.Data, &raws); err != nil {
			logger.Warn("Ошибка разбора обновления позиции", zap.Error(err))
			continue
		}
		for _, raw := range raws {
			select {
			case out <- raw.toModel():
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (s *PositionStream) authenticate(conn *websocket.Conn, write func(wsRequest) error) error {
	expires := s.now().Add(10 * time.Second).UnixMilli()
	mac := hmac.New(sha256.New, []byte(s.apiSecret))
	mac.Write([]byte("GET/realtime" + strconv.FormatInt(expires, 10)))
	signature := hex.EncodeToString(mac.Sum(nil))

	if err := write(wsRequest{Op: "auth", Args: []any{s.apiKey, expires, signature}}); err != nil {
		return fmt.Errorf("ошибка отправки авторизации: %w", err)
	}

	_ = conn.SetReadDeadline(s.now().Add(10 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("ошибка ожидания авторизации: %w", err)
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Op != "auth" {
			continue
		}
		if msg.Success == nil || !*msg.Success {
			return &APIError{Message: "авторизация потока отклонена: " + msg.RetMsg, HTTPStatus: http.StatusUnauthorized}
		}
		return nil
	}
}
