package pofile

import (
	"strings"

	"github.com/minios-linux/lokstudio/model"
)

// PluralFormsForLang returns the standard Plural-Forms header for a language code.
func PluralFormsForLang(lang string) string {
	switch baseLang(lang) {
	case "ja", "ko", "zh", "vi", "th", "id", "ms":
		return "nplurals=1; plural=0;"
	case "fr", "pt":
		return "nplurals=2; plural=(n > 1);"
	case "ru", "uk", "be", "hr", "sr", "bs":
		return "nplurals=3; plural=(n%10==1 && n%100!=11 ? 0 : n%10>=2 && n%10<=4 && (n%100<10 || n%100>=20) ? 1 : 2);"
	case "pl":
		return "nplurals=3; plural=(n==1 ? 0 : n%10>=2 && n%10<=4 && (n%100<10 || n%100>=20) ? 1 : 2);"
	case "cs", "sk":
		return "nplurals=3; plural=(n==1 ? 0 : n>=2 && n<=4 ? 1 : 2);"
	case "ro":
		return "nplurals=3; plural=(n==1 ? 0 : (n==0 || (n%100 > 0 && n%100 < 20)) ? 1 : 2);"
	case "lt":
		return "nplurals=3; plural=(n%10==1 && n%100!=11 ? 0 : n%10>=2 && (n%100<10 || n%100>=20) ? 1 : 2);"
	case "lv":
		return "nplurals=3; plural=(n%10==1 && n%100!=11 ? 0 : n != 0 ? 1 : 2);"
	case "ar":
		return "nplurals=6; plural=(n==0 ? 0 : n==1 ? 1 : n==2 ? 2 : n%100>=3 && n%100<=10 ? 3 : n%100>=11 ? 4 : 5);"
	default:
		return "nplurals=2; plural=(n != 1);"
	}
}

func baseLang(lang string) string {
	if idx := strings.IndexAny(lang, "_-"); idx > 0 {
		return lang[:idx]
	}
	return lang
}

// PluralCategory maps a msgstr[n] index to a CLDR category for a catalog
// with nplurals forms.
func PluralCategory(nplurals, index int) model.PluralForm {
	var cats []model.PluralForm
	switch nplurals {
	case 1:
		cats = []model.PluralForm{model.PluralOther}
	case 2:
		cats = []model.PluralForm{model.PluralOne, model.PluralOther}
	case 3:
		cats = []model.PluralForm{model.PluralOne, model.PluralFew, model.PluralMany}
	case 4:
		cats = []model.PluralForm{model.PluralOne, model.PluralTwo, model.PluralFew, model.PluralOther}
	case 5:
		cats = []model.PluralForm{model.PluralOne, model.PluralTwo, model.PluralFew, model.PluralMany, model.PluralOther}
	default:
		cats = []model.PluralForm{model.PluralZero, model.PluralOne, model.PluralTwo, model.PluralFew, model.PluralMany, model.PluralOther}
	}
	if index >= 0 && index < len(cats) {
		return cats[index]
	}
	return model.PluralOther
}
