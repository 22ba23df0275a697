package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"outreachly/models"
)

func TestRenderTemplate(t *testing.T) {
	vars := map[string]string{
		"first_name":   "Ada",
		"company_name": "Analytical Engines",
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text", "Hello there", "Hello there"},
		{"single token", "Hi {{first_name}}", "Hi Ada"},
		{"token with spaces", "Hi {{ first_name }}", "Hi Ada"},
		{"multiple tokens", "{{first_name}} at {{company_name}}", "Ada at Analytical Engines"},
		{"unknown token stays verbatim", "Hi {{nickname}}", "Hi {{nickname}}"},
		{"unclosed braces stay verbatim", "Hi {{first_name", "Hi {{first_name"},
		{"adjacent tokens", "{{first_name}}{{first_name}}", "AdaAda"},
		{"empty input", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RenderTemplate(tt.in, vars))
		})
	}
}

func TestContactVars(t *testing.T) {
	contact := &models.Contact{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
		Company:   "Analytical Engines",
		Position:  "Countess",
		CustomFields: map[string]string{
			"pain_point": "manual follow-ups",
			// Custom fields never shadow built-ins.
			"first_name": "IGNORED",
		},
	}

	vars := ContactVars(contact, "Grace")
	assert.Equal(t, "Ada", vars["first_name"])
	assert.Equal(t, "Lovelace", vars["last_name"])
	assert.Equal(t, "ada@example.com", vars["email"])
	assert.Equal(t, "Analytical Engines", vars["company_name"])
	assert.Equal(t, "Countess", vars["position"])
	assert.Equal(t, "Grace", vars["sender_name"])
	assert.Equal(t, "manual follow-ups", vars["pain_point"])
}
