package command

import (
	"net/url"
	"strings"
)

// Deep-link keys recognized by /start
const (
	LinkDealerInvite = "dealer_invite"
	LinkRequest      = "request"
	LinkOffer        = "offer"
)

// DeepLink is a parsed /start payload: key:value[:extra]
type DeepLink struct {
	Key   string
	Value string
	Extra string
	Raw   string
}

// Known reports whether the key is one the bot acts on
func (d DeepLink) Known() bool {
	switch d.Key {
	case LinkDealerInvite, LinkRequest, LinkOffer:
		return true
	}
	return false
}

// Payload serializes the link back into key:value[:extra]
func (d DeepLink) Payload() string {
	parts := []string{d.Key, d.Value}
	if d.Extra != "" {
		parts = append(parts, d.Extra)
	}
	return strings.Join(parts, ":")
}

// ParseStart extracts the payload of "/start <payload>". ok is false when the
// text is not /start or carries no payload.
func ParseStart(text string) (DeepLink, bool) {
	fields := strings.Fields(text)
	if len(fields) < 2 || !strings.EqualFold(fields[0], "/start") {
		return DeepLink{}, false
	}
	return ParsePayload(fields[1]), true
}

// ParsePayload splits key:value[:extra]
func ParsePayload(payload string) DeepLink {
	parts := strings.SplitN(payload, ":", 3)
	d := DeepLink{Key: parts[0], Raw: payload}
	if len(parts) > 1 {
		d.Value = parts[1]
	}
	if len(parts) > 2 {
		d.Extra = parts[2]
	}
	return d
}

// BuildURL returns https://t.me/<bot>?start=<payload>
func BuildURL(botUsername string, link DeepLink) string {
	username := strings.TrimSpace(strings.TrimPrefix(botUsername, "@"))
	return "https://t.me/" + username + "?start=" + url.QueryEscape(link.Payload())
}

// RequestLink links dealers to a request
func RequestLink(requestID string) DeepLink {
	return DeepLink{Key: LinkRequest, Value: requestID}
}

// OfferLink links dealers to the offer flow for a request
func OfferLink(requestID, offerID string) DeepLink {
	return DeepLink{Key: LinkOffer, Value: requestID, Extra: offerID}
}
