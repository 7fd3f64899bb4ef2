// Package i18n translates lokstudio's own CLI messages with gettext
// catalogs embedded in the binary.
//
//	i18n.Init("")
//	logInfo(i18n.T("Nothing to translate"))
//	logInfo(i18n.N("Found %d new term", "Found %d new terms", n), n)
//
// Catalogs live in locales/<lang>/LC_MESSAGES/lokstudio.po.
package i18n

import (
	"embed"
	"os"
	"strings"

	"github.com/leonelquinteros/gotext"
)

//go:embed all:locales
var locales embed.FS

const domain = "lokstudio"

var po *gotext.Locale

// Init loads the catalog for lang. An empty lang is taken from the
// environment the way gettext does it.
func Init(lang string) {
	if lang == "" {
		lang = detectLanguage()
	}

	po = gotext.NewLocaleFSWithPath(lang, locales, "locales")
	po.AddDomain(domain)
	po.SetDomain(domain)
}

// T returns the translation of msgid, or msgid itself.
func T(msgid string) string {
	if po == nil {
		return msgid
	}
	return po.Get(msgid)
}

// N picks the plural form of a message for n using the catalog's
// Plural-Forms rule. Without a catalog it falls back to English rules.
func N(singular, plural string, n int) string {
	if po == nil {
		if n == 1 {
			return singular
		}
		return plural
	}
	return po.GetN(singular, plural, n)
}

// detectLanguage checks LANGUAGE, LC_ALL, LC_MESSAGES and LANG in order.
func detectLanguage() string {
	for _, env := range []string{"LANGUAGE", "LC_ALL", "LC_MESSAGES", "LANG"} {
		val := os.Getenv(env)
		if env == "LANGUAGE" {
			val, _, _ = strings.Cut(val, ":")
		}
		val, _, _ = strings.Cut(val, ".")
		if val == "" || val == "C" || val == "POSIX" {
			continue
		}
		return val
	}
	return "en"
}
