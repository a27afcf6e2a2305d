package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"teledoom/internal/phone"
)

// DefaultBaseURL — адрес Simwood API v3.
const DefaultBaseURL = "https://api.simwood.com/v3"

// Sender отправляет SMS. Выделен в интерфейс для моков в тестах звонков.
type Sender interface {
	SendSMS(ctx context.Context, to, message string) error
}

// Compile-time check to ensure implementation satisfies the interface.
var _ Sender = (*Client)(nil)

// Config — настройки клиента Simwood.
type Config struct {
	// BaseURL пустой — значит DefaultBaseURL (переопределяется в тестах).
	BaseURL     string
	APIUser     string
	APIPassword string
	Account     string
	// Number — номер отправителя в поле "from".
	Number string
}

// Client — клиент Simwood messaging API.
type Client struct {
	baseURL     string
	apiUser     string
	apiPassword string
	account     string
	number      string
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewClient создает клиента Simwood.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		apiUser:     cfg.APIUser,
		apiPassword: cfg.APIPassword,
		account:     cfg.Account,
		number:      cfg.Number,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger.Named("SimwoodClient"),
	}
}

type smsRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message"`
}

// SendSMS отправляет SMS на номер to. Номер приводится к E.164; если он не
// парсится, SMS не отправляется.
func (c *Client) SendSMS(ctx context.Context, to, message string) error {
	formattedTo, err := phone.E164(to)
	if err != nil {
		c.logger.Error("Failed to parse destination number, SMS not sent",
			zap.String("to", to), zap.Error(err))
		return fmt.Errorf("failed to parse destination number %q: %w", to, err)
	}

	body, err := json.Marshal(smsRequest{
		From:    c.number,
		To:      formattedTo,
		Message: message,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal SMS request: %w", err)
	}

	endpoint := c.baseURL + "/messaging/" + c.account + "/sms"
	c.logger.Info("Attempting to send SMS", zap.String("to", formattedTo))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create SMS request: %w", err)
	}
	req.SetBasicAuth(c.apiUser, c.apiPassword)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("SMS request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	c.logger.Info("SMS send attempt returned",
		zap.Int("status", resp.StatusCode), zap.ByteString("response", respBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("SMS send returned status %d", resp.StatusCode)
	}
	return nil
}
