package service

import (
	"context"

	"github.com/mssola/useragent"

	"consentledger/pkg/requestcontext"
)

// sourceContext describes where a decision came from without keeping the raw
// client address or user agent: "<device family>:<keyed digest of ip and ua>".
func (l *Ledger) sourceContext(ctx context.Context) string {
	ip := requestcontext.ClientIP(ctx)
	ua := requestcontext.UserAgent(ctx)
	if ip == "" && ua == "" {
		return ""
	}
	return deviceFamily(ua) + ":" + l.hasher.Sum("source", ip, ua)
}

func deviceFamily(ua string) string {
	if ua == "" {
		return "unknown"
	}
	parsed := useragent.New(ua)
	switch {
	case parsed.Bot():
		return "bot"
	case parsed.Mobile():
		return "mobile"
	default:
		return "desktop"
	}
}
