package dto

import "github.com/turtacn/secstate/internal/domain/models"

// UpdateCSPRequest adds or replaces one directive.
type UpdateCSPRequest struct {
	Directive string   `json:"directive" validate:"required"`
	Sources   []string `json:"sources"`
}

// CSPResponse describes the current policy.
type CSPResponse struct {
	Policy     string              `json:"policy"`
	Directives map[string][]string `json:"directives"`
}

// ValidateCSPRequest carries a serialized policy to check.
type ValidateCSPRequest struct {
	Policy string `json:"policy" validate:"required"`
}

// PasswordCheckRequest carries a password to check against the policy.
type PasswordCheckRequest struct {
	Password string `json:"password" validate:"required"`
}

// URLCheckRequest carries a URL to validate.
type URLCheckRequest struct {
	URL string `json:"url" validate:"required"`
}

// URLCheckResponse is the outcome of a URL check.
type URLCheckResponse struct {
	Valid     bool   `json:"valid"`
	Sanitized string `json:"sanitized"`
}

// EventsResponse lists security events, most recent first.
type EventsResponse struct {
	Events []models.SecurityEvent `json:"events"`
	Count  int                    `json:"count"`
}

// VerifyResponse reports the state of the event signature chain.
type VerifyResponse struct {
	Intact bool   `json:"intact"`
	Reason string `json:"reason,omitempty"`
}

// ClearResponse reports how many keys a wipe removed.
type ClearResponse struct {
	KeysRemoved int `json:"keys_removed"`
}
