package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

var ErrMissingCredentials = errors.New("auth: missing L2 api credentials")

// L2 signs CLOB REST requests with the API key triple.
type L2 struct {
	Address    string
	APIKey     string
	Secret     string // url-safe base64
	Passphrase string

	now func() time.Time
}

func (a L2) Validate() error {
	if a.APIKey == "" || a.Secret == "" || a.Passphrase == "" {
		return ErrMissingCredentials
	}
	if _, err := decodeSecret(a.Secret); err != nil {
		return fmt.Errorf("auth: decode secret: %w", err)
	}
	return nil
}

// Sign sets the POLY_* headers for req. body must be the exact bytes sent.
func (a L2) Sign(req *http.Request, body []byte) error {
	ts := a.clock().Unix()
	sig, err := a.Signature(ts, req.Method, req.URL.Path, body)
	if err != nil {
		return err
	}
	req.Header.Set("POLY_ADDRESS", a.Address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(ts, 10))
	req.Header.Set("POLY_API_KEY", a.APIKey)
	req.Header.Set("POLY_PASSPHRASE", a.Passphrase)
	return nil
}

// Signature is base64url(HMAC-SHA256(secret, ts+method+path+body)).
func (a L2) Signature(ts int64, method, path string, body []byte) (string, error) {
	secret, err := decodeSecret(a.Secret)
	if err != nil {
		return "", fmt.Errorf("auth: decode secret: %w", err)
	}
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	h.Write([]byte(method))
	h.Write([]byte(path))
	h.Write(body)
	return base64.URLEncoding.EncodeToString(h.Sum(nil)), nil
}

// WithClock returns a copy of a that stamps requests with now.
func (a L2) WithClock(now func() time.Time) L2 {
	a.now = now
	return a
}

func (a L2) clock() time.Time {
	if a.now != nil {
		return a.now()
	}
	return time.Now()
}

func decodeSecret(s string) ([]byte, error) {
	b, err := base64.URLEncoding.DecodeString(s)
	if err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}
