package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/skalibog/bybit-mcp/pkg/logger"
	"go.uber.org/zap"
)

// Переменные окружения с ключами API
const (
	EnvAPIKey    = "BYBIT_API_KEY"
	EnvAPISecret = "BYBIT_API_SECRET"
	EnvTestnet   = "BYBIT_TESTNET"
)

// CredentialsFile путь к файлу ключей относительно корня проекта
const CredentialsFile = "config/credentials.json"

// ErrNoCredentials возвращается, если ключи не найдены ни в окружении, ни в файле
var ErrNoCredentials = errors.New("ключи API Bybit не найдены")

// Credentials пара ключей API. Значения никогда не пишутся в лог.
type Credentials struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Source    string
}

// String скрывает секреты при случайном выводе
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{source=%s testnet=%t}", c.Source, c.Testnet)
}

type credentialsFile struct {
	Bybit struct {
		APIKey    string `json:"api_key"`
		APISecret string `json:"api_secret"`
		Testnet   *bool  `json:"testnet,omitempty"`
	} `json:"bybit"`
}

// LoadCredentials ищет ключи сначала в окружении (включая <root>/.env),
// затем в <root>/config/credentials.json.
func LoadCredentials(root string) (Credentials, error) {
	envFile := filepath.Join(root, ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Не удалось прочитать .env", zap.String("path", envFile), zap.Error(err))
	}

	if creds, ok := fromEnv(); ok {
		logger.Info("Ключи API загружены из окружения", zap.Bool("testnet", creds.Testnet))
		return creds, nil
	}

	path := filepath.Join(root, CredentialsFile)
	creds, err := fromFile(path)
	if err != nil {
		return Credentials{}, err
	}
	logger.Info("Ключи API загружены из файла", zap.String("path", path), zap.Bool("testnet", creds.Testnet))
	return creds, nil
}

func fromEnv() (Credentials, bool) {
	key := strings.TrimSpace(os.Getenv(EnvAPIKey))
	secret := strings.TrimSpace(os.Getenv(EnvAPISecret))
	if key == "" || secret == "" {
		return Credentials{}, false
	}
	testnet, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv(EnvTestnet)))
	return Credentials{APIKey: key, APISecret: secret, Testnet: testnet, Source: "env"}, true
}

func fromFile(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Credentials{}, fmt.Errorf("%w: задайте %s/%s или создайте %s", ErrNoCredentials, EnvAPIKey, EnvAPISecret, path)
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("ошибка чтения файла ключей: %w", err)
	}

	var f credentialsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Credentials{}, fmt.Errorf("ошибка разбора файла ключей: %w", err)
	}
	if f.Bybit.APIKey == "" || f.Bybit.APISecret == "" {
		return Credentials{}, fmt.Errorf("%w: в %s нет bybit.api_key/bybit.api_secret", ErrNoCredentials, path)
	}

	creds := Credentials{APIKey: f.Bybit.APIKey, APISecret: f.Bybit.APISecret, Source: "file"}
	if f.Bybit.Testnet != nil {
		creds.Testnet = *f.Bybit.Testnet
	}
	return creds, nil
}
