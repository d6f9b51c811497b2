package webhooks

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

// ValidateWebhook checks a webhook's configuration before it is persisted.
// Validation happens entirely on the registration path; the delivery engine
// never sees an invalid row.
func ValidateWebhook(w *Webhook, filters *FilterEngine) error {
	u, err := url.Parse(w.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURLScheme, err)
	}
	if u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%w: got %q", ErrInvalidURLScheme, w.URL)
	}

	if len(w.Events) == 0 {
		return fmt.Errorf("%w: at least one event pattern is required", ErrInvalidEventType)
	}
	for _, pattern := range w.Events {
		if pattern == EventWildcard {
			continue
		}
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("%w: empty pattern", ErrInvalidEventType)
		}
		if _, err := glob.Compile(pattern, '.'); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidEventType, pattern, err)
		}
	}

	if w.Filter != "" && filters != nil {
		if err := filters.Compile(w.Filter); err != nil {
			return err
		}
	}

	return nil
}

// NewSecret generates a webhook signing secret. The "whsec_" prefix makes
// leaked secrets identifiable in logs and scanners.
func NewSecret() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	return "whsec_" + hex.EncodeToString(buf)
}
