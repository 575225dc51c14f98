package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSignSetsHeaders(t *testing.T) {
	secret := base64.URLEncoding.EncodeToString([]byte("s3cret"))
	a := L2{Address: "0xabc", APIKey: "key", Secret: secret, Passphrase: "pp",
		now: func() time.Time { return time.Unix(1700000000, 0) }}

	body := []byte(`{"order":{}}`)
	req := httptest.NewRequest("POST", "https://clob.example/order?x=1", strings.NewReader(string(body)))
	if err := a.Sign(req, body); err != nil {
		t.Fatal(err)
	}

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write([]byte("1700000000POST/order" + string(body)))
	want := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	if got := req.Header.Get("POLY_SIGNATURE"); got != want {
		t.Fatalf("signature = %s, want %s", got, want)
	}
	if req.Header.Get("POLY_TIMESTAMP") != "1700000000" || req.Header.Get("POLY_API_KEY") != "key" ||
		req.Header.Get("POLY_ADDRESS") != "0xabc" || req.Header.Get("POLY_PASSPHRASE") != "pp" {
		t.Fatalf("headers = %v", req.Header)
	}
}

func TestValidate(t *testing.T) {
	if err := (L2{}).Validate(); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("want ErrMissingCredentials, got %v", err)
	}
	if err := (L2{APIKey: "k", Secret: "!!!", Passphrase: "p"}).Validate(); err == nil {
		t.Fatal("bad secret accepted")
	}
}
