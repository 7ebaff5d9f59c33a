package utils

import "strings"

// MaskEmail keeps the first three characters of the local part and the domain.
// "nguyenthia@test.com" -> "ngu***@test.com"
func MaskEmail(email string) string {
	if email == "" || email == "unknown" {
		return email
	}
	local, domain, found := strings.Cut(email, "@")
	if !found || domain == "" {
		return prefix(email, 3) + "***"
	}
	return prefix(local, 3) + "***@" + domain
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
