package webhooks

import "testing"

func TestSubscribes(t *testing.T) {
	tests := []struct {
		name      string
		patterns  []string
		eventType string
		want      bool
	}{
		{"exact match", []string{"user.created"}, "user.created", true},
		{"no match", []string{"user.created"}, "user.deleted", false},
		{"wildcard matches everything", []string{"*"}, "order.refunded", true},
		{"glob segment", []string{"user.*"}, "user.created", true},
		{"glob does not cross segments", []string{"user.*"}, "user.profile.updated", false},
		{"double star crosses segments", []string{"user.**"}, "user.profile.updated", true},
		{"second pattern matches", []string{"order.*", "user.*"}, "user.created", true},
		{"empty patterns", nil, "user.created", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &Webhook{Events: tt.patterns}
			if got := w.Subscribes(tt.eventType); got != tt.want {
				t.Errorf("Subscribes(%q) with %v = %v, want %v", tt.eventType, tt.patterns, got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		status DeliveryStatus
		want   bool
	}{
		{StatusCreated, false},
		{StatusDelivered, false},
		{StatusFailed, true},
		{StatusExhausted, true},
	}

	for _, tt := range tests {
		d := &Delivery{Status: tt.status}
		if got := d.Retryable(); got != tt.want {
			t.Errorf("Retryable() with status %q = %v, want %v", tt.status, got, tt.want)
		}
	}
}
