package githubapp

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
)

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookAcceptsValidSignature(t *testing.T) {
	app := &App{WebhookSecret: "shh"}
	body := []byte(`{"action":"closed"}`)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign([]byte("shh"), body))

	got, err := app.VerifyWebhook(req)
	if err != nil {
		t.Fatalf("VerifyWebhook error: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("expected returned body to match request body")
	}
}

func TestVerifyWebhookRejectsWrongSecret(t *testing.T) {
	app := &App{WebhookSecret: "shh"}
	body := []byte(`{"action":"closed"}`)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign([]byte("wrong-secret"), body))

	if _, err := app.VerifyWebhook(req); err == nil {
		t.Fatalf("expected verification to fail with the wrong secret")
	}
}

func TestVerifyWebhookRejectsTamperedBody(t *testing.T) {
	app := &App{WebhookSecret: "shh"}
	signed := []byte(`{"action":"closed"}`)
	sig := sign([]byte("shh"), signed)

	tampered := []byte(`{"action":"opened"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(tampered))
	req.Header.Set("X-Hub-Signature-256", sig)

	if _, err := app.VerifyWebhook(req); err == nil {
		t.Fatalf("expected verification to fail when body doesn't match the signature")
	}
}

func TestVerifyWebhookRejectsMissingSignature(t *testing.T) {
	app := &App{WebhookSecret: "shh"}
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(`{}`)))

	if _, err := app.VerifyWebhook(req); err == nil {
		t.Fatalf("expected verification to fail without a signature header")
	}
}

func TestVerifyWebhookRejectsLegacySHA1Only(t *testing.T) {
	app := &App{WebhookSecret: "shh"}
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("X-Hub-Signature", "sha1=deadbeef")

	if _, err := app.VerifyWebhook(req); err == nil {
		t.Fatalf("expected sha1-only signatures to be rejected")
	}
}
