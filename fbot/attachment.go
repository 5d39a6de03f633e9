package fbot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	docconv "code.sajari.com/docconv/v2"
	"github.com/bwmarrin/discordgo"
	"github.com/extrame/xls"
	docx "github.com/fumiama/go-docx"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"
)

// codeExtensions are read verbatim as UTF-8 text.
var codeExtensions = []string{
	".txt", ".js", ".ts", ".jsx", ".tsx", ".py", ".java", ".c", ".cpp", ".cs",
	".rb", ".go", ".php", ".swift", ".kt", ".kts", ".rs", ".scala", ".sh",
	".bat", ".pl", ".lua", ".r", ".m", ".vb", ".dart", ".html", ".css", ".scss",
	".less", ".json", ".xml", ".yml", ".yaml", ".md", ".ini", ".cfg", ".toml",
	".sql", ".asm", ".s", ".h", ".hpp", ".vue", ".coffee", ".erl", ".ex", ".exs",
	".fs", ".fsx", ".groovy", ".jl", ".lisp", ".clj", ".cljs", ".ml", ".mli",
	".nim", ".ps1", ".psm1", ".psd1", ".rkt", ".vbs", ".v", ".sv", ".svelte", ".jar",
}

// imageExtensions go through OCR, except .svg and .gif which only report
// their size.
var imageExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp", ".svg",
}

// ExtractionResult is the outcome of reading a single attachment.
type ExtractionResult struct {
	// Name is the lowercased attachment filename.
	Name string

	// Text is the extracted content, prefixed with the file name header.
	// It may carry in-band markers for partial failures such as OCR
	// errors or unsupported types.
	Text string

	// OK is false only when the attachment could not be processed at
	// all, e.g. the download or a document parser failed.
	OK bool

	// Reason holds the failure description when OK is false.
	Reason string
}

// AttachmentExtractor downloads message attachments to a scratch directory
// and pulls text out of them. Safe for concurrent use.
type AttachmentExtractor struct {
	tempDir         string
	maxText         int
	downloadTimeout time.Duration
	httpClient      *http.Client
	logger          *slog.Logger

	// ocr runs OCR on an image file. Swappable so tests don't need a
	// tesseract install.
	ocr func(path string) (string, error)

	now func() time.Time
}

// NewAttachmentExtractor creates an extractor from config. A nil httpClient
// falls back to [http.DefaultClient].
func NewAttachmentExtractor(
	cfg *ChatConfig,
	httpClient *http.Client,
	logger *slog.Logger,
) *AttachmentExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = DefaultAttachmentTempDir
	}
	maxText := cfg.MaxAttachmentText
	if maxText <= 0 {
		maxText = DefaultMaxAttachmentText
	}
	return &AttachmentExtractor{
		tempDir:         tempDir,
		maxText:         maxText,
		downloadTimeout: cfg.DownloadTimeout,
		httpClient:      httpClient,
		logger:          logger.With(loggerNameKey, "attachments"),
		ocr:             tesseractOCR,
		now:             time.Now,
	}
}

// ExtractAll processes attachments concurrently and returns results in the
// same order as the input.
func (a *AttachmentExtractor) ExtractAll(
	ctx context.Context,
	attachments []*discordgo.MessageAttachment,
) []ExtractionResult {
	results := make([]ExtractionResult, len(attachments))
	g, ctx := errgroup.WithContext(ctx)
	for i, attachment := range attachments {
		// Shadow copies: the go directive is below 1.22, so loop variables
		// are still per-loop, not per-iteration.
		i, attachment := i, attachment
		g.Go(
			func() error {
				results[i] = a.Extract(ctx, attachment)
				return nil
			},
		)
	}
	_ = g.Wait()
	return results
}

// Extract downloads one attachment, reads its content with the strategy
// matching its extension, and removes the scratch file.
func (a *AttachmentExtractor) Extract(
	ctx context.Context,
	attachment *discordgo.MessageAttachment,
) ExtractionResult {
	name := strings.ToLower(attachment.Filename)
	log, ok := ContextLogger(ctx)
	if !ok {
		log = a.logger
	}
	log = log.With("attachment", name)

	tempPath, size, err := a.download(ctx, attachment, name)
	if err != nil {
		log.Error("attachment download failed", "error", err)
		return ExtractionResult{
			Name: name,
			Text: fmt.Sprintf(
				"[Failed to read file: %s - Error: %v]",
				attachment.Filename,
				err,
			),
			Reason: err.Error(),
		}
	}
	defer func() {
		if removeErr := os.Remove(tempPath); removeErr != nil {
			log.Warn("failed to remove temp file", "path", tempPath, "error", removeErr)
		}
	}()

	var content strings.Builder
	content.WriteString("[File Name: " + name + "]\n")

	body, ok := a.readContent(log, tempPath, name, size)
	content.WriteString(body)

	text := content.String()
	if utf8.RuneCountInString(text) > a.maxText {
		text = string([]rune(text)[:a.maxText]) +
			"\n\n[File Content " + name + " Truncated...]"
		log.Info("attachment content truncated", "limit", a.maxText)
	}
	result := ExtractionResult{Name: name, Text: text, OK: ok}
	if !ok {
		result.Reason = body
	}
	return result
}

func (a *AttachmentExtractor) download(
	ctx context.Context,
	attachment *discordgo.MessageAttachment,
	name string,
) (string, int64, error) {
	if err := os.MkdirAll(a.tempDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("error creating temp dir: %w", err)
	}
	tempPath := filepath.Join(
		a.tempDir,
		fmt.Sprintf("%d_%s_%s", a.now().UnixMilli(), attachment.ID, name),
	)

	if a.downloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.downloadTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		attachment.URL,
		nil,
	)
	if err != nil {
		return "", 0, fmt.Errorf("error creating request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("error downloading attachment: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("unexpected download status %d", resp.StatusCode)
	}

	out, err := os.Create(tempPath)
	if err != nil {
		return "", 0, fmt.Errorf("error creating temp file: %w", err)
	}
	size, err := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if err != nil {
		_ = os.Remove(tempPath)
		return "", 0, fmt.Errorf("error writing temp file: %w", err)
	}
	if closeErr != nil {
		_ = os.Remove(tempPath)
		return "", 0, fmt.Errorf("error closing temp file: %w", closeErr)
	}
	a.logger.Debug("attachment downloaded", "attachment", name, "bytes", size)
	return tempPath, size, nil
}

// readContent picks the extraction strategy by extension. The returned bool
// follows [ExtractionResult.OK] semantics.
func (a *AttachmentExtractor) readContent(
	log *slog.Logger,
	path string,
	name string,
	size int64,
) (string, bool) {
	switch {
	case size == 0:
		return "[Empty File]", true
	case hasAnySuffix(name, codeExtensions):
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Sprintf("[Failed to read file: %v]", err), false
		}
		return string(data), true
	case hasAnySuffix(name, imageExtensions):
		return a.readImage(log, path, name, size), true
	case strings.HasSuffix(name, ".pdf"):
		text, err := readPDF(path)
		if err != nil {
			log.Error("pdf extraction failed", "error", err)
			return fmt.Sprintf("[Failed to read PDF: %v]", err), false
		}
		return text, true
	case strings.HasSuffix(name, ".docx"):
		text, err := readDocx(path)
		if err != nil {
			log.Error("docx extraction failed", "error", err)
			return fmt.Sprintf("[Failed to process Word document: %v]", err), false
		}
		return emptyFallback(text, "[Word document processed but no text content found]"), true
	case strings.HasSuffix(name, ".doc"):
		text, err := readDoc(path)
		if err != nil {
			log.Error("doc extraction failed", "error", err)
			return fmt.Sprintf("[Failed to process Word document: %v]", err), false
		}
		return emptyFallback(text, "[Word document processed but no text content found]"), true
	case strings.HasSuffix(name, ".xlsx"):
		text, err := readXlsx(path)
		if err != nil {
			log.Error("xlsx extraction failed", "error", err)
			return fmt.Sprintf("[Failed to process Excel document: %v]", err), false
		}
		return emptyFallback(text, "[Excel document processed but no text content found]"), true
	case strings.HasSuffix(name, ".xls"):
		text, err := readXls(path)
		if err != nil {
			log.Error("xls extraction failed", "error", err)
			return fmt.Sprintf("[Failed to process Excel document: %v]", err), false
		}
		return emptyFallback(text, "[Excel document processed but no text content found]"), true
	case strings.HasSuffix(name, ".pptx"):
		text, err := readPptx(path)
		if err != nil {
			log.Error("pptx extraction failed", "error", err)
			return fmt.Sprintf("[Failed to process PowerPoint document: %v]", err), false
		}
		return emptyFallback(text, "[PowerPoint document processed but no text content found]"), true
	case strings.HasSuffix(name, ".ppt"):
		// docconv has no converter for legacy binary PowerPoint
		return "[Failed to process PowerPoint document: legacy .ppt format is not supported]", false
	default:
		log.Info("unsupported attachment type")
		return "[Unsupported file type]", true
	}
}

// readImage reports image metadata and, for OCR-able formats, the
// recognized text. OCR failure stays in-band so the rest of the prompt
// still goes through.
func (a *AttachmentExtractor) readImage(
	log *slog.Logger,
	path string,
	name string,
	size int64,
) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[Image Info: size %d bytes]\n", size))

	if strings.HasSuffix(name, ".svg") || strings.HasSuffix(name, ".gif") {
		b.WriteString("[OCR skipped for GIF/SVG]")
		return b.String()
	}

	b.WriteString("\n[OCR Result Start]\n")
	result, err := a.ocr(path)
	if err != nil {
		log.Error("ocr failed", "error", err)
		b.WriteString(fmt.Sprintf("\n[OCR Failed: %v]", err))
		return b.String()
	}
	result = strings.TrimSpace(result)
	if result == "" {
		result = "(Text not detected)"
	}
	b.WriteString(result)
	b.WriteString("\n[OCR Result End]")
	return b.String()
}

func hasAnySuffix(name string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func emptyFallback(text string, fallback string) string {
	if strings.TrimSpace(text) == "" {
		return fallback
	}
	return text
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()
	reader, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func readDocx(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	doc, err := docx.Parse(f, info.Size())
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, item := range doc.Document.Body.Items {
		switch v := item.(type) {
		case *docx.Paragraph:
			b.WriteString(v.String())
			b.WriteString("\n")
		case *docx.Table:
			b.WriteString(v.String())
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

func readDoc(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()
	text, _, err := docconv.ConvertDoc(f)
	return text, err
}

func readXlsx(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()
	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		b.WriteString("--- Sheet: " + sheet + " ---\n")
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", err
		}
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

func readXls(path string) (string, error) {
	wb, err := xls.Open(path, "utf-8")
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for i := 0; i < wb.NumSheets(); i++ {
		sheet := wb.GetSheet(i)
		if sheet == nil {
			continue
		}
		b.WriteString("--- Sheet: " + sheet.Name + " ---\n")
		for j := 0; j <= int(sheet.MaxRow); j++ {
			row := sheet.Row(j)
			if row == nil {
				continue
			}
			var cells []string
			for k := row.FirstCol(); k <= row.LastCol(); k++ {
				cells = append(cells, row.Col(k))
			}
			b.WriteString(strings.Join(cells, "\t"))
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

func readPptx(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()
	text, _, err := docconv.ConvertPptx(f)
	return text, err
}
