package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxIDLength          = 100
	MaxDescriptionLength = 1024
	MaxLadderSize        = 32
)

var (
	// SessionIDRegex validates session ID format
	SessionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// QualityIDRegex validates ladder rung IDs such as "720p" or "hd_60"
	QualityIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

	// EffectiveTypeRegex validates connection class names such as "4g" or "slow-2g"
	EffectiveTypeRegex = regexp.MustCompile(`^[a-z0-9-]*$`)
)

// ValidateSessionID validates session ID
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}
	if len(sessionID) > MaxIDLength {
		return fmt.Errorf("session ID is too long (max %d characters)", MaxIDLength)
	}
	if !SessionIDRegex.MatchString(sessionID) {
		return fmt.Errorf("invalid session ID format")
	}
	return nil
}

// ValidateQualityID validates a ladder rung ID or "auto"
func ValidateQualityID(id string) error {
	if id == "" {
		return fmt.Errorf("quality ID is required")
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("quality ID is too long (max %d characters)", MaxIDLength)
	}
	if !QualityIDRegex.MatchString(id) {
		return fmt.Errorf("invalid quality ID format")
	}
	return nil
}

// ValidateEffectiveType validates a connection class name; empty means unknown
func ValidateEffectiveType(effectiveType string) error {
	if len(effectiveType) > 16 {
		return fmt.Errorf("effective type is too long (max 16 characters)")
	}
	if !EffectiveTypeRegex.MatchString(effectiveType) {
		return fmt.Errorf("invalid effective type format")
	}
	return nil
}

// ValidateLadderSize validates the number of rungs in a ladder
func ValidateLadderSize(n int) error {
	if n > MaxLadderSize {
		return fmt.Errorf("ladder is too large (max %d rungs)", MaxLadderSize)
	}
	return nil
}

// ValidateDescription validates a free-form error description
func ValidateDescription(description string) error {
	if err := ValidateNonEmptyString(description, "description"); err != nil {
		return err
	}
	if !utf8.ValidString(description) {
		return fmt.Errorf("description contains invalid characters")
	}
	return ValidateStringLength(description, 1, MaxDescriptionLength, "description")
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
