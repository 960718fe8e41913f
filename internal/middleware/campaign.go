package middleware

import (
	"context"
	"net/http"
)

type campaignContextKey struct{}

// CampaignMiddleware extracts the X-Campaign-ID header identifying
// which campaign's driver a request targets, since one coordinatord
// deployment can host many campaigns concurrently (SPEC_FULL.md §13).
// Grounded on control_plane/middleware/tenant.go's TenantMiddleware,
// renamed from tenant to campaign scoping.
func CampaignMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		campaignID := r.Header.Get("X-Campaign-ID")
		if campaignID == "" {
			http.Error(w, "missing X-Campaign-ID header", http.StatusBadRequest)
			return
		}

		ctx := context.WithValue(r.Context(), campaignContextKey{}, campaignID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CampaignFromContext retrieves the campaign ID CampaignMiddleware
// attached to ctx.
func CampaignFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(campaignContextKey{}).(string)
	return id, ok
}
