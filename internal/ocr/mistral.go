package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/bureau-cli/internal/model"
	"github.com/sells-group/bureau-cli/internal/resilience"
)

const (
	mistralOCREndpoint  = "https://api.mistral.ai/v1/ocr"
	defaultMistralModel = "pixtral-large-latest"
)

// MistralOCR extracts text using the Mistral OCR API.
type MistralOCR struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// NewMistralOCR creates a MistralOCR engine. If model is empty, the default is used.
func NewMistralOCR(apiKey, model string) *MistralOCR {
	if model == "" {
		model = defaultMistralModel
	}
	return &MistralOCR{
		apiKey:   apiKey,
		model:    model,
		endpoint: mistralOCREndpoint,
		client:   &http.Client{},
	}
}

// Method implements Extractor.
func (m *MistralOCR) Method() string { return model.MethodMistral }

type mistralRequest struct {
	Model    string          `json:"model"`
	Document mistralDocument `json:"document"`
}

type mistralDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

type mistralResponse struct {
	Pages []struct {
		Index    int    `json:"index"`
		Markdown string `json:"markdown"`
	} `json:"pages"`
}

// Extract uploads the document as a data URL and joins the returned pages.
// Scanned images go up as image_url, everything else as a PDF document_url.
func (m *MistralOCR) Extract(ctx context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ocr: read document %s", path)
	}

	doc := mistralDocument{Type: "document_url"}
	encoded := base64.StdEncoding.EncodeToString(data)
	if mime, ok := imageMIME(path); ok {
		doc.Type = "image_url"
		doc.ImageURL = "data:" + mime + ";base64," + encoded
	} else {
		doc.DocumentURL = "data:application/pdf;base64," + encoded
	}

	body, err := json.Marshal(mistralRequest{Model: m.model, Document: doc})
	if err != nil {
		return nil, eris.Wrap(err, "ocr: marshal mistral request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "ocr: create mistral request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: mistral API call")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: read mistral response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.HTTPStatusError(model.MethodMistral, resp.StatusCode, respBody)
	}

	var parsed mistralResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, eris.Wrap(err, "ocr: unmarshal mistral response")
	}

	pages := make([]string, 0, len(parsed.Pages))
	for _, p := range parsed.Pages {
		pages = append(pages, p.Markdown)
	}
	return &Document{Text: strings.Join(pages, "\n\n"), Method: m.Method(), Pages: len(parsed.Pages)}, nil
}

func imageMIME(path string) (string, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png", true
	case ".jpg", ".jpeg":
		return "image/jpeg", true
	case ".tif", ".tiff":
		return "image/tiff", true
	}
	return "", false
}
