package order

import "testing"

func TestCanTransition_Graph(t *testing.T) {
	legal := []struct{ from, to Status }{
		{StatusPending, StatusAccepted},
		{StatusPending, StatusDeclined},
		{StatusPending, StatusCancelled},
		{StatusAccepted, StatusOngoing},
		{StatusAccepted, StatusCancelled},
		{StatusOngoing, StatusCompleted},
		{StatusOngoing, StatusOverdue},
		{StatusOngoing, StatusCancelled},
		{StatusOverdue, StatusCompleted},
		{StatusOverdue, StatusCancelled},
	}
	for _, edge := range legal {
		if !CanTransition(edge.from, edge.to) {
			t.Errorf("expected %s -> %s to be legal", edge.from, edge.to)
		}
	}

	illegal := []struct{ from, to Status }{
		{StatusPending, StatusOngoing},
		{StatusPending, StatusCompleted},
		{StatusAccepted, StatusDeclined},
		{StatusAccepted, StatusCompleted},
		{StatusOngoing, StatusAccepted},
		{StatusDeclined, StatusPending},
		{StatusDeclined, StatusAccepted},
		{StatusCompleted, StatusOngoing},
		{StatusCancelled, StatusPending},
		{StatusOverdue, StatusOngoing},
	}
	for _, edge := range illegal {
		if CanTransition(edge.from, edge.to) {
			t.Errorf("expected %s -> %s to be illegal", edge.from, edge.to)
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	for _, s := range []Status{StatusDeclined, StatusCompleted, StatusCancelled} {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusAccepted, StatusOngoing, StatusOverdue} {
		if s.Terminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if _, err := ParseStatus("pending"); err != nil {
		t.Fatalf("parse pending: %v", err)
	}
	for _, raw := range []string{"", "paid", "PENDING", "done"} {
		if _, err := ParseStatus(raw); err == nil {
			t.Errorf("expected %q to be rejected", raw)
		}
	}
}

func TestOrder_Counterpart(t *testing.T) {
	o := Order{RequesterID: "req", ProviderID: "prov"}

	if got := o.Counterpart("req"); got != "prov" {
		t.Errorf("counterpart of requester = %q, want prov", got)
	}
	if got := o.Counterpart("prov"); got != "req" {
		t.Errorf("counterpart of provider = %q, want req", got)
	}
	if got := o.Counterpart("stranger"); got != "" {
		t.Errorf("counterpart of stranger = %q, want empty", got)
	}
}
