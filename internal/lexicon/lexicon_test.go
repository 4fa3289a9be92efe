package lexicon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/locus/api/schemas"
)

func TestDefaultLoads(t *testing.T) {
	lex := Default()
	require.NotNil(t, lex)
	assert.NotEmpty(t, lex.Version)
	assert.ElementsMatch(t, []string{"en", "tr"}, lex.Languages)
	assert.Same(t, lex, Default(), "default tables are parsed once")
}

func TestInferAction(t *testing.T) {
	lex := Default()
	tests := []struct {
		text string
		want schemas.ActionType
	}{
		{"Click the 'Submit' button", schemas.ActionClick},
		{"Enter 'john@example.com' in the email field", schemas.ActionFill},
		{"Type 'shoes' into the search box", schemas.ActionFill},
		{"Select 'Turkey' from the Country dropdown", schemas.ActionSelect},
		{"Check the terms and conditions checkbox", schemas.ActionCheck},
		{"Check that the welcome banner is shown", schemas.ActionVerify},
		{"Verify the order total", schemas.ActionVerify},
		{"Wait for the dashboard to load", schemas.ActionWait},
		{"Navigate to https://shop.example.com/login", schemas.ActionNavigate},
		{"Go to the settings page", schemas.ActionNavigate},
		{"Open the user menu", schemas.ActionClick},
		{"Giriş butonuna tıkla", schemas.ActionClick},
		{"GİRİŞ BUTONUNA TIKLAYIN", schemas.ActionClick},
		{"E-posta alanına 'a@b.com' yaz", schemas.ActionFill},
		{"Ülke listesinden 'Türkiye' seçin", schemas.ActionSelect},
		{"Sözleşme kutusunu işaretle", schemas.ActionCheck},
		{"Başarı mesajını doğrula", schemas.ActionVerify},
		{"Sayfanın yüklenmesini bekle", schemas.ActionWait},
		{"The secure banner", schemas.ActionUnknown},
		{"", schemas.ActionUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, lex.InferAction(tt.text))
		})
	}
}

func TestInferActionEarliestWins(t *testing.T) {
	lex := Default()
	assert.Equal(t, schemas.ActionNavigate, lex.InferAction("Go to checkout and click Pay"))
	assert.Equal(t, schemas.ActionClick, lex.InferAction("Click Pay then wait for the receipt"))
}

func TestFieldHints(t *testing.T) {
	lex := Default()

	hints := lex.FieldHints("Enter 'a@b.com' in the E-mail field")
	require.Len(t, hints, 1)
	assert.Equal(t, "email", hints[0].Kind)
	assert.Contains(t, hints[0].Aliases, "e-posta")

	hints = lex.FieldHints("Şifre alanına 'secret' yaz")
	require.Len(t, hints, 1)
	assert.Equal(t, "password", hints[0].Kind)

	assert.Empty(t, lex.FieldHints("Click the Submit button"))
}

func TestScopeMarkers(t *testing.T) {
	lex := Default()
	assert.True(t, lex.MentionsModal("Click OK in the popup"))
	assert.True(t, lex.MentionsModal("Açılır pencerede Tamam'a tıkla"))
	assert.False(t, lex.MentionsModal("Click OK"))
	assert.True(t, lex.MentionsTab("Switch to the Billing tab"))
	assert.False(t, lex.MentionsTab("Click the table header"))
}

func TestWordClasses(t *testing.T) {
	lex := Default()
	assert.True(t, lex.IsNoise("button"))
	assert.True(t, lex.IsNoise("butonuna"))
	assert.False(t, lex.IsNoise("submit"))
	assert.True(t, lex.IsStopWord("the"))
	assert.True(t, lex.IsStopWord("için"))
	assert.False(t, lex.IsStopWord("checkout"))
	assert.True(t, lex.IsActionWord("click"))
	assert.True(t, lex.IsActionWord("tıklayın"))
	assert.False(t, lex.IsActionWord("submitted"))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"click", "the", "submit", "button"}, Tokenize("Click the 'Submit' button!"))
	assert.Equal(t, []string{"istanbul", "şubesi"}, Tokenize("İSTANBUL Şubesi"))
	assert.Empty(t, Tokenize("  --  "))
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		err  string
	}{
		{"missing version", "actions: [{kind: click, tokens: [click]}]", "version is required"},
		{"no actions", "version: x", "defines no actions"},
		{"unknown kind", "version: x\nactions: [{kind: hover, tokens: [hover]}]", `unknown action kind "hover"`},
		{"duplicate kind", "version: x\nactions: [{kind: click}, {kind: click}]", "listed twice"},
		{"empty field", "version: x\nactions: [{kind: click}]\nfields: [{kind: email}]", "need a kind and aliases"},
		{"unknown key", "version: x\nverbs: []", "failed to decode lexicon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	lex, err := LoadFile("")
	require.NoError(t, err)
	assert.Same(t, Default(), lex)

	path := filepath.Join(t.TempDir(), "lexicon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "custom-1"
languages: [de]
actions:
  - kind: click
    tokens: [klicken, klicke]
fields:
  - kind: email
    aliases: [E-Mail]
noise: [den, die]
stop_words: [und]
`), 0o600))

	lex, err = LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "custom-1", lex.Version)
	assert.Equal(t, schemas.ActionClick, lex.InferAction("Klicke den Knopf"))
	assert.Equal(t, schemas.ActionUnknown, lex.InferAction("Click the button"))
	require.Len(t, lex.FieldHints("Die e-mail eingeben"), 1)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
