package validation

import (
	"regexp"
	"strings"
	"time"
)

var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	codeRegex  = regexp.MustCompile(`^[0-9]{6}$`)
	e164Regex  = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)
)

var (
	genders     = []string{"MALE", "FEMALE", "OTHER"}
	experiences = []string{"NO_BUT_WANT_TO_LEARN", "KNOW_RULES_ONLY", "OCCASIONALLY_PLAY", "PLAY_WELL"}
	ratings     = []string{"I_DONT_KNOW", "UNDER_1000", "BETWEEN_1000_1500", "BETWEEN_1500_2000", "OVER_2000"}
)

// ValidateEmail validates email format
func ValidateEmail(email string) bool {
	email = strings.TrimSpace(strings.ToLower(email))
	return emailRegex.MatchString(email)
}

// ValidateCode checks a verification code is exactly six digits
func ValidateCode(code string) bool {
	return codeRegex.MatchString(code)
}

// ValidateE164 checks an already-normalized phone number
func ValidateE164(phone string) bool {
	return e164Regex.MatchString(phone)
}

// ValidateGender accepts the empty string for users who skip the field
func ValidateGender(gender string) bool {
	return gender == "" || oneOf(gender, genders)
}

// ValidateChessExperience accepts the empty string for users who skip the field
func ValidateChessExperience(experience string) bool {
	return experience == "" || oneOf(experience, experiences)
}

func ValidateChessRating(rating string) bool {
	return oneOf(rating, ratings)
}

// ValidateBirthYear rejects years in the future or implausibly far back
func ValidateBirthYear(year int) bool {
	return year >= 1900 && year <= time.Now().Year()
}

// SanitizeString removes potentially harmful characters
func SanitizeString(input string) string {
	// Basic sanitization
	input = strings.TrimSpace(input)
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")
	return input
}

func oneOf(value string, allowed []string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}
