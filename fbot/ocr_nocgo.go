//go:build !cgo

package fbot

import "errors"

// tesseractOCR requires cgo (gosseract links against libtesseract). In a
// cgo-less build the failure is reported in-band like any other OCR error.
func tesseractOCR(path string) (string, error) {
	return "", errors.New("OCR unavailable: built without cgo")
}
