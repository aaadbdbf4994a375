package handlers

// Error codes carried in ErrorResponse.Code. They are part of the API
// contract: clients branch on them, never on Message.
//
// upstream_failed means a collaborator (attachment store, translation
// provider) answered badly; unavailable means it could not be used at all.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodePayloadTooLarge  = "payload_too_large"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeUpstreamFailed   = "upstream_failed"
	ErrCodeUnavailable      = "unavailable"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
