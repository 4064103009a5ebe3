package whatsapp

import "strings"

// NamePlaceholder is replaced by the recipient's display name.
const NamePlaceholder = "[NOMBRE]"

// Personalize substitutes every NamePlaceholder occurrence in template.
func Personalize(template, name string) string {
	return strings.ReplaceAll(template, NamePlaceholder, name)
}
