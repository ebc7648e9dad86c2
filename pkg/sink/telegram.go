package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "xdigest/pkg/errors"
	"xdigest/pkg/logger"
)

// DefaultTelegramAPI is the public Bot API endpoint
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramSink sends messages through the Telegram Bot API. Recipients are chat ids.
type TelegramSink struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     logger.Logger
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// NewTelegramSink creates a sink for the bot identified by token
func NewTelegramSink(baseURL, token string, httpClient *http.Client, log logger.Logger) (*TelegramSink, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is empty")
	}
	if baseURL == "" {
		baseURL = DefaultTelegramAPI
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &TelegramSink{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		logger:     logger.OrGlobal(log).WithField("component", "sink.telegram"),
	}, nil
}

func (s *TelegramSink) methodURL(method string) string {
	return s.baseURL + "/bot" + s.token + "/" + method
}

func (s *TelegramSink) SendText(ctx context.Context, recipient, text string) error {
	body, err := json.Marshal(map[string]string{
		"chat_id": recipient,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return s.post(ctx, "sendMessage", "application/json", bytes.NewReader(body))
}

func (s *TelegramSink) SendDocument(ctx context.Context, recipient, path, caption string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open digest: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("chat_id", recipient); err != nil {
		return err
	}
	if caption != "" {
		if err := mw.WriteField("caption", caption); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("document", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to read digest: %w", err)
	}
	if err := mw.Close(); err != nil {
		return err
	}

	return s.post(ctx, "sendDocument", mw.FormDataContentType(), &buf)
}

func (s *TelegramSink) post(ctx context.Context, method, contentType string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.methodURL(method), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return apperrors.New(apperrors.ErrorTypeNetwork, "telegram request failed", err)
	}
	defer resp.Body.Close()

	var tr telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil && resp.StatusCode < 300 {
		return apperrors.New(apperrors.ErrorTypeParsing, "failed to decode telegram response", err)
	}
	if resp.StatusCode >= 300 || !tr.OK {
		msg := tr.Description
		if msg == "" {
			msg = resp.Status
		}
		return apperrors.FromStatusCode(resp.StatusCode, "telegram "+method+": "+msg)
	}

	s.logger.DebugWithFields("Telegram request sent", map[string]interface{}{
		"method": method,
	})
	return nil
}
