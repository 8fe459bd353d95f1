package ocr

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/bureau-cli/internal/config"
	"github.com/sells-group/bureau-cli/internal/model"
	"github.com/sells-group/bureau-cli/internal/resilience"
)

func writeDoc(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestNewExtractor(t *testing.T) {
	cfg := config.OCRConfig{
		PdfToTextPath: "/usr/bin/pdftotext",
		MistralKey:    "key",
		HTTPEndpoint:  "https://ocr.example.com/upload",
		HTTPMethod:    "docsumo",
	}
	tests := []struct {
		name   string
		want   any
		method string
	}{
		{"pdftotext", &PdfToText{}, model.MethodPdfToText},
		{"local", &PdfToText{}, model.MethodPdfToText},
		{"mistral", &MistralOCR{}, model.MethodMistral},
		{"docsumo", &HTTPOCR{}, model.MethodDocsumo},
		{"http", &HTTPOCR{}, model.MethodDocsumo},
		{"fallback", &NaiveParser{}, model.MethodFallback},
		{"Naive", &NaiveParser{}, model.MethodFallback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := NewExtractor(tt.name, cfg)
			require.NoError(t, err)
			assert.IsType(t, tt.want, ext)
			assert.Equal(t, tt.method, ext.Method())
		})
	}
}

func TestNewExtractor_Empty(t *testing.T) {
	ext, err := NewExtractor("", config.OCRConfig{})
	require.NoError(t, err)
	assert.Nil(t, ext)
}

func TestNewExtractor_MissingCredentials(t *testing.T) {
	_, err := NewExtractor("mistral", config.OCRConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires ocr.mistral_api_key")

	_, err = NewExtractor("docsumo", config.OCRConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires ocr.http_endpoint")
}

func TestNewExtractor_Unknown(t *testing.T) {
	_, err := NewExtractor("tesseract", config.OCRConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown engine "tesseract"`)
}

func TestMistralOCR_Defaults(t *testing.T) {
	m := NewMistralOCR("key", "")
	assert.Equal(t, defaultMistralModel, m.model)
	assert.Equal(t, mistralOCREndpoint, m.endpoint)
	assert.Equal(t, "custom", NewMistralOCR("key", "custom").model)
}

func TestMistralOCR_Extract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req mistralRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, "document_url", req.Document.Type)
		assert.Contains(t, req.Document.DocumentURL, "data:application/pdf;base64,")

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"pages":[{"index":0,"markdown":"EQUIFAX CREDIT FILE"},{"index":1,"markdown":"ABC BANK"}]}`)
	}))
	defer srv.Close()

	m := &MistralOCR{apiKey: "test-key", model: "test-model", endpoint: srv.URL, client: srv.Client()}
	doc, err := m.Extract(context.Background(), writeDoc(t, "report.pdf", []byte("%PDF-1.4 test")))
	require.NoError(t, err)
	assert.Equal(t, "EQUIFAX CREDIT FILE\n\nABC BANK", doc.Text)
	assert.Equal(t, model.MethodMistral, doc.Method)
	assert.Equal(t, 2, doc.Pages)
}

func TestMistralOCR_ImageUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req mistralRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "image_url", req.Document.Type)
		assert.Contains(t, req.Document.ImageURL, "data:image/png;base64,")
		_, _ = io.WriteString(w, `{"pages":[]}`)
	}))
	defer srv.Close()

	m := &MistralOCR{apiKey: "k", model: "m", endpoint: srv.URL, client: srv.Client()}
	doc, err := m.Extract(context.Background(), writeDoc(t, "scan.PNG", []byte{0x89, 'P', 'N', 'G'}))
	require.NoError(t, err)
	assert.Empty(t, doc.Text)
}

func TestMistralOCR_StatusErrors(t *testing.T) {
	tests := []struct {
		code      int
		transient bool
	}{
		{http.StatusUnauthorized, false},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = io.WriteString(w, `{"error":"nope"}`)
			}))
			defer srv.Close()

			m := &MistralOCR{apiKey: "k", model: "m", endpoint: srv.URL, client: srv.Client()}
			_, err := m.Extract(context.Background(), writeDoc(t, "r.pdf", []byte("%PDF")))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "mistral returned")
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
		})
	}
}

func TestMistralOCR_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{invalid json`)
	}))
	defer srv.Close()

	m := &MistralOCR{apiKey: "k", model: "m", endpoint: srv.URL, client: srv.Client()}
	_, err := m.Extract(context.Background(), writeDoc(t, "r.pdf", []byte("%PDF")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal mistral response")
}

func TestMistralOCR_FileNotFound(t *testing.T) {
	_, err := NewMistralOCR("key", "").Extract(context.Background(), "/nonexistent/file.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read document")
}

func TestHTTPOCR_Extract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("apikey"))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close() //nolint:errcheck
		assert.Equal(t, "report.pdf", header.Filename)
		data, _ := io.ReadAll(file)
		assert.Equal(t, "%PDF-1.7 body", string(data))

		_, _ = io.WriteString(w, `{"text":"TRANSUNION CONSUMER REPORT"}`)
	}))
	defer srv.Close()

	h := NewHTTPOCR(srv.URL, "secret", "")
	doc, err := h.Extract(context.Background(), writeDoc(t, "report.pdf", []byte("%PDF-1.7 body")))
	require.NoError(t, err)
	assert.Equal(t, "TRANSUNION CONSUMER REPORT", doc.Text)
	assert.Equal(t, model.MethodDocsumo, doc.Method)
	assert.Zero(t, doc.Pages)
}

func TestHTTPOCR_PagesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"pages":[{"text":"one"},{"text":"two"}]}`)
	}))
	defer srv.Close()

	doc, err := NewHTTPOCR(srv.URL, "", "textract").Extract(context.Background(), writeDoc(t, "r.pdf", []byte("x")))
	require.NoError(t, err)
	assert.Equal(t, "one\n\ntwo", doc.Text)
	assert.Equal(t, "textract", doc.Method)
	assert.Equal(t, 2, doc.Pages)
}

func TestHTTPOCR_PageCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"text":"full text","page_count":4}`)
	}))
	defer srv.Close()

	doc, err := NewHTTPOCR(srv.URL, "", "").Extract(context.Background(), writeDoc(t, "r.pdf", []byte("x")))
	require.NoError(t, err)
	assert.Equal(t, "full text", doc.Text)
	assert.Equal(t, 4, doc.Pages)
}

func TestHTTPOCR_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPOCR(srv.URL, "", "").Extract(context.Background(), writeDoc(t, "r.pdf", []byte("x")))
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestPdfToText_BinPath(t *testing.T) {
	assert.Equal(t, "pdftotext", NewPdfToText("").binPath)
	assert.Equal(t, "/custom/pdftotext", NewPdfToText("/custom/pdftotext").binPath)
}

func TestPdfToText_BinaryNotFound(t *testing.T) {
	_, err := NewPdfToText("/nonexistent/pdftotext").Extract(context.Background(), "/tmp/test.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdftotext failed")
}

func TestPdfToText_Success(t *testing.T) {
	fakeBin := filepath.Join(t.TempDir(), "pdftotext")
	script := "#!/bin/sh\nprintf 'ACCOUNT INFORMATION\\n\\fINQUIRIES\\n\\f'\n"
	require.NoError(t, os.WriteFile(fakeBin, []byte(script), 0o755))

	doc, err := NewPdfToText(fakeBin).Extract(context.Background(), "/tmp/dummy.pdf")
	require.NoError(t, err)
	assert.Contains(t, doc.Text, "ACCOUNT INFORMATION")
	assert.Equal(t, model.MethodPdfToText, doc.Method)
	assert.Equal(t, 2, doc.Pages)
}

func TestNaiveParser_Extract(t *testing.T) {
	data := []byte("%PDF\x00\x01ABC BANK balance $1,250\x00\xffab\x02late payment\n")
	doc, err := NewNaiveParser().Extract(context.Background(), writeDoc(t, "r.pdf", data))
	require.NoError(t, err)
	assert.Equal(t, "%PDF\nABC BANK balance $1,250\nlate payment", doc.Text)
	assert.Equal(t, model.MethodFallback, doc.Method)
}

func TestNaiveParser_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewNaiveParser().Extract(ctx, "/tmp/whatever.pdf")
	assert.Error(t, err)
}

func TestPrintableRuns(t *testing.T) {
	assert.Equal(t, "", PrintableRuns(nil, 4))
	assert.Equal(t, "", PrintableRuns([]byte("abc\x00de"), 4))
	assert.Equal(t, "abcd\nefgh", PrintableRuns([]byte("abcd\x00\x00efgh"), 4))
}
