package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanBody(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Hola, quiero saber el horario.", "Hola, quiero saber el horario."},
		{"html tags", "<p>Hola <b>mundo</b></p>", "Hola mundo"},
		{"signature dashes", "Pregunta\n--\nJuan Perez\nGerente", "Pregunta"},
		{"signature with trailing space", "Pregunta\n-- \nJuan", "Pregunta"},
		{"long separator", "Pregunta\n-----\nfirma", "Pregunta"},
		{"inline dashes kept", "uno -- dos", "uno -- dos"},
		{"quoted header kept", "Hola\n--- Mensaje original ---\ntexto", "Hola\n--- Mensaje original ---\ntexto"},
		{"collapse blank lines", "a\n\n\n\nb", "a\n\nb"},
		{"single blank line kept", "a\n\nb", "a\n\nb"},
		{"whitespace blank lines", "a\n \n\t\n\nb", "a\n\nb"},
		{"crlf", "a\r\n\r\n\r\nb\r\n", "a\n\nb"},
		{"trim", "  \n texto \n\n ", "texto"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanBody(tt.in))
		})
	}
}
