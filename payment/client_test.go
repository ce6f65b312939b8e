package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateCheckoutSession(t *testing.T) {
	var got CheckoutRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk_test" {
			t.Errorf("authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(CheckoutSession{SessionID: "cs_123", URL: "https://pay.example/cs_123"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "sk_test")
	session, err := client.CreateCheckoutSession(context.Background(), CheckoutRequest{
		AmountCents: 4000,
		Description: "BorrowPal item order ord-1",
		Metadata:    map[string]string{"order_id": "ord-1"},
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if session.SessionID != "cs_123" {
		t.Errorf("session id = %q", session.SessionID)
	}
	if got.AmountCents != 4000 {
		t.Errorf("sent amount = %d, want 4000", got.AmountCents)
	}
	if got.Currency != "usd" {
		t.Errorf("currency defaulted to %q, want usd", got.Currency)
	}
	if got.Metadata["order_id"] != "ord-1" {
		t.Errorf("metadata = %v", got.Metadata)
	}
}

func TestCreateCheckoutSession_RejectsBadAmount(t *testing.T) {
	client := NewClient("http://unused.invalid", "")
	if _, err := client.CreateCheckoutSession(context.Background(), CheckoutRequest{AmountCents: 0}); err == nil {
		t.Error("expected zero amount to be rejected before any request")
	}
}

func TestCreateCheckoutSession_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "sk_test")
	_, err := client.CreateCheckoutSession(context.Background(), CheckoutRequest{AmountCents: 4000})
	if !errors.Is(err, ErrPaymentService) {
		t.Errorf("got %v, want ErrPaymentService", err)
	}
}

func TestVerifySession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions/cs_123" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(VerificationResult{
			Paid:        true,
			AmountCents: 4000,
			Currency:    "usd",
			Metadata:    map[string]string{"order_id": "ord-1", "payer_id": "req"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "sk_test")
	result, err := client.VerifySession(context.Background(), "cs_123")
	if err != nil {
		t.Fatalf("VerifySession: %v", err)
	}
	if !result.Paid || result.AmountCents != 4000 {
		t.Errorf("result = %+v", result)
	}
	if result.Metadata["order_id"] != "ord-1" {
		t.Errorf("metadata = %v", result.Metadata)
	}
}

func TestVerifySession_EmptyID(t *testing.T) {
	client := NewClient("http://unused.invalid", "")
	if _, err := client.VerifySession(context.Background(), ""); err == nil {
		t.Error("expected empty session id to be rejected")
	}
}
