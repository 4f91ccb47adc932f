package qrcode

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	skipqrcode "github.com/skip2/go-qrcode"
)

var (
	// ErrEmptyLink is returned when the payment link is empty or whitespace.
	ErrEmptyLink = errors.New("payment link is empty")
	// ErrInvalidLink is returned when the payment link is not an absolute
	// http or https URL. QR codes for anything else scan as garbage in
	// wallet apps.
	ErrInvalidLink = errors.New("payment link is not an absolute http(s) url")
	// ErrEncode wraps failures from the underlying QR encoder.
	ErrEncode = errors.New("failed to encode qr code")
)

// defaultSize is the edge length in pixels when the caller passes size <= 0.
const defaultSize = 256

// PNG renders a hosted checkout link as a size x size pixel QR image.
// Medium error correction keeps codes scannable from phone screens while
// staying compact enough for long gateway URLs.
func PNG(link string, size int) ([]byte, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return nil, ErrEmptyLink
	}
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrInvalidLink
	}
	if size <= 0 {
		size = defaultSize
	}

	png, err := skipqrcode.Encode(link, skipqrcode.Medium, size)
	if err != nil {
		return nil, errors.Join(ErrEncode, err)
	}
	return png, nil
}

// DataURI renders the link as a base64 PNG data URI, ready to drop into
// an email body or an <img> src without hosting the image anywhere.
func DataURI(link string, size int) (string, error) {
	png, err := PNG(link, size)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("data:image/png;base64,%s", base64.StdEncoding.EncodeToString(png)), nil
}
