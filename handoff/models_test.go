package handoff

import (
	"errors"
	"testing"

	"borrowpal/order"
)

func TestAction_ValidFor(t *testing.T) {
	cases := []struct {
		action Action
		kind   order.Kind
		want   bool
	}{
		{ActionDelivery, order.KindItem, true},
		{ActionReturn, order.KindItem, true},
		{ActionStartService, order.KindItem, false},
		{ActionCompleteService, order.KindItem, false},
		{ActionDelivery, order.KindService, false},
		{ActionReturn, order.KindService, false},
		{ActionStartService, order.KindService, true},
		{ActionCompleteService, order.KindService, true},
	}
	for _, tc := range cases {
		if got := tc.action.ValidFor(tc.kind); got != tc.want {
			t.Errorf("%s.ValidFor(%s) = %v, want %v", tc.action, tc.kind, got, tc.want)
		}
	}
}

func TestAction_ScannerAndPresenter(t *testing.T) {
	o := order.Order{RequesterID: "req", ProviderID: "prov"}

	// The receiving party scans; the counterpart presents.
	if ActionDelivery.ExpectedScanner(o) != "req" || ActionDelivery.Presenter(o) != "prov" {
		t.Error("delivery: provider presents, requester scans")
	}
	if ActionStartService.ExpectedScanner(o) != "req" || ActionStartService.Presenter(o) != "prov" {
		t.Error("start_service: provider presents, requester scans")
	}
	if ActionReturn.ExpectedScanner(o) != "prov" || ActionReturn.Presenter(o) != "req" {
		t.Error("return: requester presents, provider scans")
	}
	if ActionCompleteService.ExpectedScanner(o) != "prov" || ActionCompleteService.Presenter(o) != "req" {
		t.Error("complete_service: requester presents, provider scans")
	}
}

func TestParsePresentedValue(t *testing.T) {
	orderID, code, err := ParsePresentedValue("ord-1|abc123")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if orderID != "ord-1" || code != "abc123" {
		t.Errorf("got %q/%q", orderID, code)
	}

	for _, raw := range []string{"", "ord-1", "ord-1|", "|abc123", "|"} {
		if _, _, err := ParsePresentedValue(raw); !errors.Is(err, ErrMalformedScan) {
			t.Errorf("%q: got %v, want ErrMalformedScan", raw, err)
		}
	}
}

func TestPresentedValue_RoundTrip(t *testing.T) {
	v := PresentedValue("ord-9", "deadbeef")
	orderID, code, err := ParsePresentedValue(v)
	if err != nil {
		t.Fatalf("parse %q: %v", v, err)
	}
	if orderID != "ord-9" || code != "deadbeef" {
		t.Errorf("round trip gave %q/%q", orderID, code)
	}
}
