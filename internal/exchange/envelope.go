package exchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Envelope общий конверт ответа Bybit V5
type Envelope struct {
	RetCode    int             `json:"retCode"`
	RetMsg     string          `json:"retMsg"`
	Result     json.RawMessage `json:"result,omitempty"`
	RetExtInfo json.RawMessage `json:"retExtInfo,omitempty"`
	Time       int64           `json:"time,omitempty"`
}

// Err возвращает ошибку для ненулевого retCode
func (e Envelope) Err() error {
	if e.RetCode == 0 {
		return nil
	}
	return &APIError{Code: e.RetCode, Message: e.RetMsg}
}

// APIError ошибка, которую вернула биржа (retCode != 0)
type APIError struct {
	Code       int
	Message    string
	HTTPStatus int
}

func (e *APIError) Error() string {
	if e.Code == 0 && e.HTTPStatus != 0 {
		return fmt.Sprintf("%s (HTTP %d)", e.Message, e.HTTPStatus)
	}
	return fmt.Sprintf("%s (retCode %d)", e.Message, e.Code)
}

// IsAuth сообщает, что биржа отклонила ключи или подпись
func (e *APIError) IsAuth() bool {
	switch e.Code {
	case 10001, 10002, 10003, 10004, 10005, 33004:
		return true
	}
	return e.HTTPStatus == http.StatusUnauthorized || e.HTTPStatus == http.StatusForbidden
}

// TransientError сетевой сбой или ответ 5xx. Повтор остается на усмотрение вызывающего.
type TransientError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("временная ошибка %s (HTTP %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("временная ошибка %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsAuthError проверяет цепочку ошибок на ошибку авторизации
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsAuth()
}

// IsTransient проверяет цепочку ошибок на временную ошибку
func IsTransient(err error) bool {
	var tErr *TransientError
	return errors.As(err, &tErr)
}

// ParseEmbeddedError извлекает конверт из строки вида `bybit {"retCode":10001,...}`.
// Возвращает false, если в строке нет разбираемого JSON с retCode.
func ParseEmbeddedError(msg string) (Envelope, bool) {
	start := strings.Index(msg, "{")
	end := strings.LastIndex(msg, "}")
	if start < 0 || end <= start {
		return Envelope{}, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(msg[start:end+1]), &fields); err != nil {
		return Envelope{}, false
	}
	if _, ok := fields["retCode"]; !ok {
		return Envelope{}, false
	}

	var env Envelope
	if err := json.Unmarshal([]byte(msg[start:end+1]), &env); err != nil {
		return Envelope{}, false
	}
	return env, true
}

// Normalize приводит ошибку к структурированному виду: если в тексте
// спрятан конверт биржи, возвращается *APIError.
func Normalize(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return err
	}
	if env, ok := ParseEmbeddedError(err.Error()); ok && env.RetCode != 0 {
		return env.Err()
	}
	return err
}
