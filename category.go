package eventbus

import "strings"

// Category groups event types by their leading segment.
type Category string

// Known categories.
const (
	CategoryDocument     Category = "document"
	CategoryVerification Category = "verification"
	CategoryMeeting      Category = "meeting"
	CategoryRepository   Category = "repository"
	CategoryUser         Category = "user"
	CategoryOrganization Category = "organization"
	CategoryBilling      Category = "billing"
	CategorySecurity     Category = "security"
	CategoryIntegration  Category = "integration"
	CategorySystem       Category = "system"
)

// CategoryUnknown is returned for unrecognized event type prefixes.
const CategoryUnknown Category = ""

var categoryPrefixes = map[string]Category{
	"document":     CategoryDocument,
	"assertion":    CategoryDocument,
	"knowledge":    CategoryDocument,
	"verification": CategoryVerification,
	"remediation":  CategoryVerification,
	"meeting":      CategoryMeeting,
	"transcript":   CategoryMeeting,
	"summary":      CategoryMeeting,
	"repository":   CategoryRepository,
	"code":         CategoryRepository,
	"pr":           CategoryRepository,
	"pipeline":     CategoryRepository,
	"user":         CategoryUser,
	"profile":      CategoryUser,
	"session":      CategoryUser,
	"org":          CategoryOrganization,
	"organization": CategoryOrganization,
	"project":      CategoryOrganization,
	"team":         CategoryOrganization,
	"billing":      CategoryBilling,
	"subscription": CategoryBilling,
	"invoice":      CategoryBilling,
	"security":     CategorySecurity,
	"audit":        CategorySecurity,
	"mfa":          CategorySecurity,
	"integration":  CategoryIntegration,
	"webhook":      CategoryIntegration,
	"api":          CategoryIntegration,
	"system":       CategorySystem,
	"health":       CategorySystem,
	"maintenance":  CategorySystem,
}

// CategoryOf classifies an event type such as "document.created".
// Unrecognized prefixes return CategoryUnknown.
func CategoryOf(eventType string) Category {
	head, _, _ := strings.Cut(eventType, ".")
	return categoryPrefixes[head]
}
