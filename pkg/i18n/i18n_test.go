package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLanguage(t *testing.T) {
	t.Cleanup(func() { SetLanguage(LangEN) })

	SetLanguage(LangKO)
	assert.Equal(t, LangKO, GetLanguage())
	assert.Equal(t, messagesKO.ShuttingDown, Get("ShuttingDown"))

	SetLanguage("fr")
	assert.Equal(t, LangEN, GetLanguage())
	assert.Equal(t, messagesEN.ShuttingDown, Get("ShuttingDown"))
}

func TestGetUnknownKeyReturnsKey(t *testing.T) {
	assert.Equal(t, "NoSuchMessage", Get("NoSuchMessage"))
}
