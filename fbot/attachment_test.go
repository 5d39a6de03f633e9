package fbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// attachmentFixtures serves named payloads and records requested paths.
type attachmentFixtures struct {
	srv   *httptest.Server
	files map[string][]byte
}

func newAttachmentFixtures(t *testing.T) *attachmentFixtures {
	t.Helper()
	fixtures := &attachmentFixtures{files: map[string][]byte{}}
	fixtures.srv = httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				name := strings.TrimPrefix(r.URL.Path, "/")
				data, ok := fixtures.files[name]
				if !ok {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				_, _ = w.Write(data)
			},
		),
	)
	t.Cleanup(fixtures.srv.Close)
	return fixtures
}

func (f *attachmentFixtures) add(name string, data []byte) *discordgo.MessageAttachment {
	f.files[name] = data
	return &discordgo.MessageAttachment{
		ID:       fmt.Sprintf("%d", len(f.files)),
		Filename: name,
		URL:      f.srv.URL + "/" + name,
	}
}

func newTestExtractor(t *testing.T, fixtures *attachmentFixtures) *AttachmentExtractor {
	t.Helper()
	extractor := NewAttachmentExtractor(
		&ChatConfig{TempDir: t.TempDir(), MaxAttachmentText: 20000},
		fixtures.srv.Client(),
		slog.Default(),
	)
	extractor.ocr = func(string) (string, error) {
		return "", errors.New("ocr not configured for this test")
	}
	return extractor
}

func TestExtractTextFile(t *testing.T) {
	t.Parallel()
	fixtures := newAttachmentFixtures(t)
	attachment := fixtures.add("notes.txt", []byte("hello from a file"))
	extractor := newTestExtractor(t, fixtures)

	result := extractor.Extract(context.Background(), attachment)
	assert.True(t, result.OK)
	assert.Equal(t, "notes.txt", result.Name)
	assert.Equal(t, "[File Name: notes.txt]\nhello from a file", result.Text)
}

func TestExtractFilenameIsLowercased(t *testing.T) {
	t.Parallel()
	fixtures := newAttachmentFixtures(t)
	attachment := fixtures.add("Main.GO", []byte("package main"))
	extractor := newTestExtractor(t, fixtures)

	result := extractor.Extract(context.Background(), attachment)
	assert.True(t, result.OK)
	assert.Equal(t, "main.go", result.Name)
	assert.True(t, strings.HasPrefix(result.Text, "[File Name: main.go]\n"))
}

func TestExtractEmptyFile(t *testing.T) {
	t.Parallel()
	fixtures := newAttachmentFixtures(t)
	attachment := fixtures.add("empty.txt", nil)
	extractor := newTestExtractor(t, fixtures)

	result := extractor.Extract(context.Background(), attachment)
	assert.True(t, result.OK)
	assert.Equal(t, "[File Name: empty.txt]\n[Empty File]", result.Text)
}

func TestExtractImageOCR(t *testing.T) {
	t.Parallel()
	fixtures := newAttachmentFixtures(t)
	attachment := fixtures.add("shot.png", []byte("fake image bytes"))
	extractor := newTestExtractor(t, fixtures)
	extractor.ocr = func(string) (string, error) {
		return "  recognized text  ", nil
	}

	result := extractor.Extract(context.Background(), attachment)
	assert.True(t, result.OK)
	assert.Contains(t, result.Text, "[Image Info: size 16 bytes]")
	assert.Contains(t, result.Text, "[OCR Result Start]\nrecognized text\n[OCR Result End]")
}

func TestExtractImageOCRNoText(t *testing.T) {
	t.Parallel()
	fixtures := newAttachmentFixtures(t)
	attachment := fixtures.add("blank.png", []byte("x"))
	extractor := newTestExtractor(t, fixtures)
	extractor.ocr = func(string) (string, error) {
		return "   ", nil
	}

	result := extractor.Extract(context.Background(), attachment)
	assert.True(t, result.OK)
	assert.Contains(t, result.Text, "(Text not detected)")
}

func TestExtractImageOCRFailureStaysInBand(t *testing.T) {
	t.Parallel()
	fixtures := newAttachmentFixtures(t)
	attachment := fixtures.add("broken.jpg", []byte("x"))
	extractor := newTestExtractor(t, fixtures)
	extractor.ocr = func(string) (string, error) {
		return "", errors.New("tesseract choked")
	}

	result := extractor.Extract(context.Background(), attachment)
	assert.True(t, result.OK, "ocr failure should not fail the attachment")
	assert.Contains(t, result.Text, "[OCR Failed: tesseract choked]")
}

func TestExtractImageOCRSkippedForGifAndSvg(t *testing.T) {
	t.Parallel()
	fixtures := newAttachmentFixtures(t)
	extractor := newTestExtractor(t, fixtures)
	ocrCalled := false
	extractor.ocr = func(string) (string, error) {
		ocrCalled = true
		return "should not happen", nil
	}

	for _, name := range []string{"anim.gif", "logo.svg"} {
		attachment := fixtures.add(name, []byte("data"))
		result := extractor.Extract(context.Background(), attachment)
		assert.True(t, result.OK)
		assert.Contains(t, result.Text, "[OCR skipped for GIF/SVG]")
	}
	assert.False(t, ocrCalled)
}

func TestExtractUnsupportedType(t *testing.T) {
	t.Parallel()
	fixtures := newAttachmentFixtures(t)
	attachment := fixtures.add("song.mp3", []byte("audio"))
	extractor := newTestExtractor(t, fixtures)

	result := extractor.Extract(context.Background(), attachment)
	assert.True(t, result.OK, "unsupported types are reported in-band")
	assert.Equal(t, "[File Name: song.mp3]\n[Unsupported file type]", result.Text)
}

func TestExtractLegacyPowerPointFails(t *testing.T) {
	t.Parallel()
	fixtures := newAttachmentFixtures(t)
	attachment := fixtures.add("deck.ppt", []byte("old binary deck"))
	extractor := newTestExtractor(t, fixtures)

	result := extractor.Extract(context.Background(), attachment)
	assert.False(t, result.OK)
	assert.Contains(t, result.Text, "legacy .ppt format is not supported")
}

func TestExtractCorruptPDFFails(t *testing.T) {
	t.Parallel()
	fixtures := newAttachmentFixtures(t)
	attachment := fixtures.add("report.pdf", []byte("this is not a pdf"))
	extractor := newTestExtractor(t, fixtures)

	result := extractor.Extract(context.Background(), attachment)
	assert.False(t, result.OK)
	assert.Contains(t, result.Text, "[Failed to read PDF:")
	assert.NotEmpty(t, result.Reason)
}

func TestExtractTruncatesLongContent(t *testing.T) {
	t.Parallel()
	fixtures := newAttachmentFixtures(t)
	attachment := fixtures.add("big.txt", []byte(strings.Repeat("a", 500)))
	extractor := newTestExtractor(t, fixtures)
	extractor.maxText = 100

	result := extractor.Extract(context.Background(), attachment)
	assert.True(t, result.OK)
	assert.True(
		t,
		strings.HasSuffix(result.Text, "\n\n[File Content big.txt Truncated...]"),
	)
	marker := strings.Index(result.Text, "\n\n[File Content")
	assert.Equal(t, 100, marker)
}

func TestExtractDownloadFailure(t *testing.T) {
	t.Parallel()
	fixtures := newAttachmentFixtures(t)
	extractor := newTestExtractor(t, fixtures)

	attachment := &discordgo.MessageAttachment{
		ID:       "404",
		Filename: "missing.txt",
		URL:      fixtures.srv.URL + "/missing.txt",
	}
	result := extractor.Extract(context.Background(), attachment)
	assert.False(t, result.OK)
	assert.Contains(t, result.Text, "[Failed to read file: missing.txt")
}

func TestExtractDownloadTimeout(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				time.Sleep(500 * time.Millisecond)
				_, _ = w.Write([]byte("too late"))
			},
		),
	)
	t.Cleanup(srv.Close)

	extractor := NewAttachmentExtractor(
		&ChatConfig{
			TempDir:           t.TempDir(),
			MaxAttachmentText: 20000,
			DownloadTimeout:   20 * time.Millisecond,
		},
		srv.Client(),
		slog.Default(),
	)

	attachment := &discordgo.MessageAttachment{
		ID:       "1",
		Filename: "slow.txt",
		URL:      srv.URL + "/slow.txt",
	}
	result := extractor.Extract(context.Background(), attachment)
	assert.False(t, result.OK)
	assert.Contains(t, result.Reason, "context deadline exceeded")
}

func TestExtractCleansUpTempFiles(t *testing.T) {
	t.Parallel()
	fixtures := newAttachmentFixtures(t)
	attachment := fixtures.add("tidy.txt", []byte("content"))
	tempDir := t.TempDir()
	extractor := NewAttachmentExtractor(
		&ChatConfig{TempDir: tempDir, MaxAttachmentText: 20000},
		fixtures.srv.Client(),
		slog.Default(),
	)

	result := extractor.Extract(context.Background(), attachment)
	assert.True(t, result.OK)

	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExtractAllPreservesOrder(t *testing.T) {
	t.Parallel()
	fixtures := newAttachmentFixtures(t)
	attachments := []*discordgo.MessageAttachment{
		fixtures.add("first.txt", []byte("one")),
		fixtures.add("second.txt", []byte("two")),
		fixtures.add("third.txt", []byte("three")),
	}
	extractor := newTestExtractor(t, fixtures)

	results := extractor.ExtractAll(context.Background(), attachments)
	require.Len(t, results, 3)
	assert.Equal(t, "first.txt", results[0].Name)
	assert.Equal(t, "second.txt", results[1].Name)
	assert.Equal(t, "third.txt", results[2].Name)
	assert.Contains(t, results[1].Text, "two")
}
