package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
		vars map[string]string
		want string
	}{
		{"plain text", "Estimado alumno", RecipientVars("Ana", "a@x.pe"), "Estimado alumno"},
		{"name", "Hola {{name}}", RecipientVars("Ana", "a@x.pe"), "Hola Ana"},
		{"spaces inside braces", "Hola {{ name }}, tu correo es {{email}}.", RecipientVars("Ana", "a@x.pe"), "Hola Ana, tu correo es a@x.pe."},
		{"repeated", "{{name}}{{name}}", RecipientVars("Jo", ""), "JoJo"},
		{"empty value", "[{{email}}]", RecipientVars("Ana", ""), "[]"},
		{"single braces are literal", "{name} }}", RecipientVars("Ana", ""), "{name} }}"},
		{"empty template", "", RecipientVars("Ana", ""), ""},
		{"multiline", "Hola {{name}}\n\nSaludos", RecipientVars("Ana", ""), "Hola Ana\n\nSaludos"},
	}

	for _, tt := range tests {
		got, err := Render(tt.src, tt.vars)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
}

func TestCompileErrors(t *testing.T) {
	t.Parallel()

	for _, src := range []string{
		"Hola {{name",
		"Hola {{}}",
		"Hola {{ first name }}",
		"Hola {{name|upper}}",
		"Hola {{1name}}",
	} {
		_, err := Compile(src)
		assert.ErrorIs(t, err, ErrRender, src)
	}
}

func TestRenderUndefinedVariable(t *testing.T) {
	t.Parallel()

	tmpl, err := Compile("Hola {{name}}, curso {{course}}")
	require.NoError(t, err)

	_, err = tmpl.Render(RecipientVars("Ana", "a@x.pe"))
	assert.ErrorIs(t, err, ErrRender)
	assert.Contains(t, err.Error(), "course")
}

func TestTemplateVariables(t *testing.T) {
	t.Parallel()

	tmpl, err := Compile("{{email}} {{name}} {{ email }}")
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "name"}, tmpl.Variables())
	assert.Equal(t, "{{email}} {{name}} {{ email }}", tmpl.String())
}
