package migration

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// networkSeparator is legal in source network names but not on the destination.
const (
	networkSeparator  = "|"
	networkSubstitute = "_"
)

func SanitizeNetworkName(name string) string {
	return strings.ReplaceAll(name, networkSeparator, networkSubstitute)
}

// Capitalize upper-cases the first character and lower-cases the rest.
func Capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

// OrgVDCName derives the tenant storage division name. Downstream lookups depend on
// this exact format: {tenantId}-{TenantName}-{OsClass}.
func OrgVDCName(tenantID, tenantName, osClass string) string {
	return fmt.Sprintf("%s-%s-%s", tenantID, Capitalize(tenantName), Capitalize(osClass))
}
