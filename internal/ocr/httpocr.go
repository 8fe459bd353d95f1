package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/bureau-cli/internal/model"
	"github.com/sells-group/bureau-cli/internal/resilience"
)

// HTTPOCR extracts text through a hosted document-OCR service that accepts
// a multipart upload and answers with JSON text. The method tag defaults to
// "docsumo".
type HTTPOCR struct {
	endpoint string
	apiKey   string
	method   string
	client   *http.Client
}

// NewHTTPOCR creates an HTTPOCR engine.
func NewHTTPOCR(endpoint, apiKey, method string) *HTTPOCR {
	if method == "" {
		method = model.MethodDocsumo
	}
	return &HTTPOCR{
		endpoint: endpoint,
		apiKey:   apiKey,
		method:   method,
		client:   &http.Client{},
	}
}

// Method implements Extractor.
func (h *HTTPOCR) Method() string { return h.method }

type httpOCRResponse struct {
	Text      string `json:"text"`
	PageCount int    `json:"page_count"`
	Pages     []struct {
		Text string `json:"text"`
	} `json:"pages"`
}

// Extract uploads the file as form field "file" and returns the service's text.
func (h *HTTPOCR) Extract(ctx context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ocr: read document %s", path)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, eris.Wrap(err, "ocr: create form file")
	}
	if _, err := part.Write(data); err != nil {
		return nil, eris.Wrap(err, "ocr: write form file")
	}
	if err := writer.Close(); err != nil {
		return nil, eris.Wrap(err, "ocr: close multipart writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, &buf)
	if err != nil {
		return nil, eris.Wrapf(err, "ocr: create %s request", h.method)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if h.apiKey != "" {
		req.Header.Set("apikey", h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "ocr: %s API call", h.method)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "ocr: read %s response", h.method)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resilience.HTTPStatusError(h.method, resp.StatusCode, body)
	}

	var parsed httpOCRResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrapf(err, "ocr: unmarshal %s response", h.method)
	}

	text := parsed.Text
	pages := len(parsed.Pages)
	if text == "" && pages > 0 {
		parts := make([]string, 0, pages)
		for _, p := range parsed.Pages {
			parts = append(parts, p.Text)
		}
		text = strings.Join(parts, "\n\n")
	}
	if pages == 0 && parsed.PageCount > 0 {
		pages = parsed.PageCount
	}
	return &Document{Text: text, Method: h.method, Pages: pages}, nil
}
