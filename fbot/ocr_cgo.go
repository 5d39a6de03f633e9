//go:build cgo

package fbot

import "github.com/otiai10/gosseract/v2"

func tesseractOCR(path string) (string, error) {
	client := gosseract.NewClient()
	defer func() {
		_ = client.Close()
	}()
	if err := client.SetLanguage("eng"); err != nil {
		return "", err
	}
	if err := client.SetImage(path); err != nil {
		return "", err
	}
	return client.Text()
}
