package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

// DecodeBody converts a fetched body to UTF-8 text. Bodies that do not sniff
// as text (images, archives, PDFs) are rejected as EmptyContent.
func DecodeBody(body []byte, contentType string) (string, error) {
	if len(body) == 0 {
		return "", fmt.Errorf("%w: empty response body", ErrEmptyContent)
	}

	if !isTextual(mimetype.Detect(body)) {
		return "", fmt.Errorf("%w: body is %s, not markup", ErrEmptyContent, mimetype.Detect(body).String())
	}

	enc, name, certain := charset.DetermineEncoding(body, contentType)
	if !certain {
		if res, err := chardet.NewHtmlDetector().DetectBest(body); err == nil && res.Confidence >= 50 {
			if detected, canonical := charset.Lookup(res.Charset); detected != nil {
				enc, name = detected, canonical
			}
		}
	}

	text := string(body)
	if enc != nil && name != "utf-8" {
		decoded, err := enc.NewDecoder().Bytes(body)
		if err != nil {
			return "", fmt.Errorf("%w: decode %s body: %v", ErrEmptyContent, name, err)
		}
		text = string(decoded)
	}

	text = strings.TrimPrefix(text, "\ufeff")
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: whitespace-only body", ErrEmptyContent)
	}
	return text, nil
}

func isTextual(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
