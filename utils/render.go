package utils

import (
	"strings"

	"outreachly/models"
)

// RenderTemplate substitutes {{placeholder}} tokens in text with values
// from vars. Unresolved placeholders are left verbatim so a typo in a
// template never silently corrupts an outgoing message.
func RenderTemplate(text string, vars map[string]string) string {
	var b strings.Builder
	b.Grow(len(text))

	for {
		start := strings.Index(text, "{{")
		if start == -1 {
			b.WriteString(text)
			break
		}
		end := strings.Index(text[start:], "}}")
		if end == -1 {
			b.WriteString(text)
			break
		}
		end += start

		b.WriteString(text[:start])
		token := text[start : end+2]
		key := strings.TrimSpace(text[start+2 : end])
		if value, ok := vars[key]; ok {
			b.WriteString(value)
		} else {
			b.WriteString(token)
		}
		text = text[end+2:]
	}

	return b.String()
}

// ContactVars builds the substitution map for a contact. Custom fields are
// merged in first so the built-in keys always win on collision.
func ContactVars(contact *models.Contact, senderName string) map[string]string {
	vars := make(map[string]string, len(contact.CustomFields)+6)
	for key, value := range contact.CustomFields {
		vars[key] = value
	}
	vars["first_name"] = contact.FirstName
	vars["last_name"] = contact.LastName
	vars["email"] = contact.Email
	vars["company_name"] = contact.Company
	vars["position"] = contact.Position
	vars["sender_name"] = senderName
	return vars
}
