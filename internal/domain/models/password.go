package models

// PasswordStrength is the result of a password policy check.
type PasswordStrength struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors"`
}
