package i18n

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed messages.yaml
var defaultMessages []byte

const (
	LangEnglish = "en"
	LangArabic  = "ar"
)

// Catalog resolves toast message keys for the LTR (English) or RTL (Arabic)
// layout. Missing translations fall back to English, then to the key itself.
type Catalog struct {
	messages map[string]map[string]string
}

func Load() (*Catalog, error) {
	return Parse(defaultMessages)
}

func Parse(data []byte) (*Catalog, error) {
	messages := map[string]map[string]string{}
	if err := yaml.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("parse message catalog: %w", err)
	}

	if _, ok := messages[LangEnglish]; !ok {
		return nil, fmt.Errorf("message catalog has no %q section", LangEnglish)
	}

	return &Catalog{messages: messages}, nil
}

func (c *Catalog) Message(rtl bool, key string) string {
	lang := LangEnglish
	if rtl {
		lang = LangArabic
	}

	if msg, ok := c.messages[lang][key]; ok {
		return msg
	}
	if msg, ok := c.messages[LangEnglish][key]; ok {
		return msg
	}
	return key
}

// MustLoad returns the embedded catalogue and panics if it does not parse.
func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}
