package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/rythmiq/internal/models"
	"github.com/trobanga/rythmiq/internal/services"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

// fakeRunner returns canned output, or blocks until the context ends
type fakeRunner struct {
	out   string
	err   error
	block bool

	gotName string
	gotArgs []string
}

func (r *fakeRunner) Run(ctx context.Context, name string, args []string, _ []byte) ([]byte, error) {
	r.gotName = name
	r.gotArgs = args
	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return []byte(r.out), r.err
}

const tesseractTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t100\t100\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t0\t0\t10\t10\t90\tInvoice\n" +
	"5\t1\t1\t1\t1\t2\t0\t0\t10\t10\t80\tNumber:\n" +
	"5\t1\t1\t1\t1\t3\t0\t0\t10\t10\t70\tINV-1\n" +
	"5\t1\t1\t1\t2\t1\t0\t0\t10\t10\t60\tTotal:\n" +
	"5\t1\t1\t1\t2\t2\t0\t0\t10\t10\t100\t12.50\n"

func extractionCode(t *testing.T, err error) models.ErrorCode {
	t.Helper()
	var ee *models.ExtractionError
	require.True(t, errors.As(err, &ee), "expected *models.ExtractionError, got %v", err)
	return ee.Code
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want services.Format
	}{
		{"pdf", []byte("%PDF-1.7\n"), services.FormatPDF},
		{"png", pngHeader, services.FormatPNG},
		{"jpeg", []byte("\xff\xd8\xff\xe0"), services.FormatJPEG},
		{"tiff little endian", []byte("II*\x00rest"), services.FormatTIFF},
		{"tiff big endian", []byte("MM\x00*rest"), services.FormatTIFF},
		{"text", []byte("Total: 12.50"), services.FormatText},
		{"binary", []byte{0x00, 0x01, 0x02}, services.FormatUnknown},
		{"invalid utf8", []byte{0xff, 0xfe, 0xfd}, services.FormatUnknown},
		{"empty", nil, services.FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, services.DetectFormat(tt.data))
		})
	}
}

func TestTextExtractor_Pages(t *testing.T) {
	e := &services.TextExtractor{}

	result, err := e.Extract(context.Background(), []byte("page one\fpage two"))
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalPages)
	assert.Equal(t, "page one", result.Pages[0].Text)
	assert.Equal(t, "page two", result.Pages[1].Text)
	assert.Equal(t, 1.0, result.Pages[0].Confidence)
	assert.Equal(t, "page one\npage two", result.Text())
}

func TestTextExtractor_Errors(t *testing.T) {
	e := &services.TextExtractor{MaxBytes: 4}
	ctx := context.Background()

	_, err := e.Extract(ctx, nil)
	assert.Equal(t, models.ErrCodeCorruptData, extractionCode(t, err))

	_, err = e.Extract(ctx, []byte("too long"))
	assert.Equal(t, models.ErrCodeSizeExceeded, extractionCode(t, err))

	_, err = e.Extract(ctx, []byte{0xff, 0xfe})
	assert.Equal(t, models.ErrCodeUnsupportedFormat, extractionCode(t, err))
}

func TestTesseractExtractor_ParsesTSV(t *testing.T) {
	runner := &fakeRunner{out: tesseractTSV}
	e := &services.TesseractExtractor{Path: "/usr/bin/tesseract", Language: "deu", Timeout: time.Second, Runner: runner}

	result, err := e.Extract(context.Background(), pngHeader)
	require.NoError(t, err)

	assert.Equal(t, "/usr/bin/tesseract", runner.gotName)
	assert.Equal(t, []string{"stdin", "stdout", "-l", "deu", "tsv"}, runner.gotArgs)
	assert.Equal(t, 1, result.TotalPages)
	assert.Equal(t, "Invoice Number: INV-1\nTotal: 12.50", result.Pages[0].Text)
	assert.InDelta(t, 0.8, result.Pages[0].Confidence, 1e-9, "Mean of word confidences over 100")
	assert.Equal(t, "tesseract", result.Engine)
}

func TestTesseractExtractor_Timeout(t *testing.T) {
	e := &services.TesseractExtractor{Path: "tesseract", Timeout: 10 * time.Millisecond, Runner: &fakeRunner{block: true}}

	_, err := e.Extract(context.Background(), pngHeader)
	assert.Equal(t, models.ErrCodeTimeout, extractionCode(t, err))
}

func TestTesseractExtractor_Failures(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		data   []byte
		runner *fakeRunner
		want   models.ErrorCode
	}{
		{"pdf rejected", []byte("%PDF-1.4"), &fakeRunner{}, models.ErrCodeUnsupportedFormat},
		{"text rejected", []byte("hello"), &fakeRunner{}, models.ErrCodeUnsupportedFormat},
		{"engine error", pngHeader, &fakeRunner{err: errors.New("exit status 1")}, models.ErrCodeOCRFailure},
		{"no words", pngHeader, &fakeRunner{out: "level\tpage_num\n"}, models.ErrCodeOCRFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &services.TesseractExtractor{Path: "tesseract", Timeout: time.Second, Runner: tt.runner}
			_, err := e.Extract(ctx, tt.data)
			assert.Equal(t, tt.want, extractionCode(t, err))
		})
	}
}

func TestPDFExtractor_RejectsNonPDF(t *testing.T) {
	e := &services.PDFExtractor{}

	_, err := e.Extract(context.Background(), []byte("plain text"))
	assert.Equal(t, models.ErrCodeUnsupportedFormat, extractionCode(t, err))
}

// stubExtractor records that it was chosen
type stubExtractor struct {
	name  string
	calls int
}

func (s *stubExtractor) Extract(_ context.Context, _ []byte) (*models.ExtractionResult, error) {
	s.calls++
	return &models.ExtractionResult{Pages: []models.ExtractedPage{{Text: s.name, Confidence: 1}}, TotalPages: 1, Engine: s.name}, nil
}

func TestAutoExtractor_Routing(t *testing.T) {
	text := &stubExtractor{name: "text"}
	pdf := &stubExtractor{name: "pdf"}
	ocr := &stubExtractor{name: "ocr"}
	auto := &services.AutoExtractor{Text: text, PDF: pdf, OCR: ocr, MaxBytes: 1 << 10}
	ctx := context.Background()

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"pdf", []byte("%PDF-1.4 ..."), "pdf"},
		{"png", pngHeader, "ocr"},
		{"jpeg", []byte("\xff\xd8\xff\xe0...."), "ocr"},
		{"text", []byte("Invoice Number: 1"), "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := auto.Extract(ctx, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Engine)
		})
	}

	_, err := auto.Extract(ctx, []byte{0x00, 0x01})
	assert.Equal(t, models.ErrCodeUnsupportedFormat, extractionCode(t, err))

	_, err = auto.Extract(ctx, make([]byte, 2<<10))
	assert.Equal(t, models.ErrCodeSizeExceeded, extractionCode(t, err), "Size is checked before sniffing")
}

func TestNewExtractor(t *testing.T) {
	cfg := models.DefaultConfig().Extraction

	e, err := services.NewExtractor(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &services.AutoExtractor{}, e)

	cfg.Engine = models.EngineText
	e, err = services.NewExtractor(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &services.TextExtractor{}, e)

	cfg.Engine = "magic"
	_, err = services.NewExtractor(cfg, nil)
	assert.Error(t, err)
}
