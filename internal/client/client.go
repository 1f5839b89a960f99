// Package client загружает файлы на сервер чанками с докачкой
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// VerifyResult ответ /verify
type VerifyResult struct {
	ShouldUpload bool     `json:"shouldUpload"`
	UploadedList []string `json:"uploadedList"`
}

type mergeResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Client HTTP клиент сервера загрузки
type Client struct {
	httpClient *retryablehttp.Client
	baseURL    string
	log        *zap.SugaredLogger
}

// New создает клиента с повторами на сетевых ошибках и 5xx
func New(baseURL string, log *zap.SugaredLogger) *Client {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 3
	httpClient.RetryWaitMin = 200 * time.Millisecond
	httpClient.RetryWaitMax = 2 * time.Second
	httpClient.Logger = nil

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		log:        log,
	}
}

// WithHTTPClient заменяет транспорт (для тестов и тонкой настройки)
func (c *Client) WithHTTPClient(httpClient *retryablehttp.Client) *Client {
	c.httpClient = httpClient
	return c
}

// Verify спрашивает, нужно ли загружать файл и какие чанки уже есть
func (c *Client) Verify(ctx context.Context, fileHash, filename string) (*VerifyResult, error) {
	body, err := json.Marshal(map[string]string{"fileHash": fileHash, "filename": filename})
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, "/verify", "application/json", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, unwrapError(resp)
	}

	var result VerifyResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

// UploadPiece отправляет один чанк с именем name (hash-index)
func (c *Client) UploadPiece(ctx context.Context, fileHash, name string, data []byte) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("hash", name); err != nil {
		return err
	}
	if err := writer.WriteField("fileHash", fileHash); err != nil {
		return err
	}
	part, err := writer.CreateFormFile("chunk", name)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	resp, err := c.post(ctx, "/", writer.FormDataContentType(), buf.Bytes())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return unwrapError(resp)
	}

	return nil
}

// Merge просит сервер собрать файл
func (c *Client) Merge(ctx context.Context, fileHash, filename string, chunkSize, fileSize int64) error {
	body, err := json.Marshal(map[string]interface{}{
		"fileHash": fileHash,
		"filename": filename,
		"size":     chunkSize,
		"fileSize": fileSize,
	})
	if err != nil {
		return err
	}

	resp, err := c.post(ctx, "/merge", "application/json", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return unwrapError(resp)
	}

	var result mergeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}
	if result.Code != 0 {
		return fmt.Errorf("merge failed: %d - %s", result.Code, result.Message)
	}

	return nil
}

func (c *Client) post(ctx context.Context, path, contentType string, body []byte) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	return c.httpClient.Do(req)
}

// StatusError ответ сервера с неуспешным статусом
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed: %d - %s", e.StatusCode, e.Message)
}

func unwrapError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var env mergeResponse
	if err := json.Unmarshal(data, &env); err == nil && env.Message != "" {
		return &StatusError{StatusCode: resp.StatusCode, Message: env.Message}
	}

	return &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
}
