// Package responder は受信テキストとロケールから自動応答文を生成する。
// 外部呼び出しや副作用を持たない純粋関数のみを提供する。
package responder

import (
	"strings"
	"unicode"
)

// DefaultLocale は未対応ロケールのフォールバック先。
const DefaultLocale = "en"

// intent はキーワードから判定した問い合わせ種別。
type intent int

const (
	intentDefault intent = iota
	intentGreeting
	intentThanks
	intentPricing
	intentJobs
	intentHelp
)

// rule はキーワードと種別の対応。先に定義したものが優先される。
type rule struct {
	intent   intent
	keywords []string
}

// キーワードは全ロケール分を照合し、返信は受信者のロケールで行う。
var rules = []rule{
	{intentHelp, []string{"help", "support", "problem", "помощь", "поддержк", "проблем", "yordam", "muammo"}},
	{intentPricing, []string{"price", "pricing", "cost", "premium", "subscription", "цена", "стоимост", "подписк", "премиум", "narx", "obuna"}},
	{intentJobs, []string{"job", "jobs", "vacanc", "hiring", "career", "ваканси", "работ", "карьер", "vakansiya", "ish", "karyera"}},
	{intentThanks, []string{"thank", "thx", "спасибо", "благодар", "rahmat", "tashakkur"}},
	{intentGreeting, []string{"hello", "hi", "hey", "привет", "здравствуй", "добрый", "salom", "assalomu"}},
}

var templates = map[string]map[intent]string{
	"en": {
		intentDefault:  "Thanks for your message! An iCore team member will get back to you soon.",
		intentGreeting: "Hello! This is iCore. How can we help you today?",
		intentThanks:   "You're welcome! Let us know if there is anything else we can do.",
		intentPricing:  "You can find plans and pricing in the Premium section of your iCore profile.",
		intentJobs:     "Open positions are listed in the Jobs section of iCore. You can also set up alerts there.",
		intentHelp:     "We're here to help. Please describe the issue and an operator will reply in this chat.",
	},
	"ru": {
		intentDefault:  "Спасибо за сообщение! Сотрудник iCore скоро вам ответит.",
		intentGreeting: "Здравствуйте! Это iCore. Чем можем помочь?",
		intentThanks:   "Пожалуйста! Если нужно что-то ещё, просто напишите.",
		intentPricing:  "Тарифы и цены доступны в разделе Premium вашего профиля iCore.",
		intentJobs:     "Открытые вакансии собраны в разделе «Вакансии» iCore. Там же можно настроить уведомления.",
		intentHelp:     "Мы готовы помочь. Опишите проблему, и оператор ответит в этом чате.",
	},
	"uz": {
		intentDefault:  "Xabaringiz uchun rahmat! iCore xodimi tez orada javob beradi.",
		intentGreeting: "Assalomu alaykum! Bu iCore. Sizga qanday yordam bera olamiz?",
		intentThanks:   "Arzimaydi! Yana savollaringiz bo'lsa, yozing.",
		intentPricing:  "Tariflar va narxlar iCore profilingizning Premium bo'limida.",
		intentJobs:     "Bo'sh ish o'rinlari iCore'ning Vakansiyalar bo'limida. U yerda bildirishnomalarni ham sozlash mumkin.",
		intentHelp:     "Yordam berishga tayyormiz. Muammoni tasvirlab bering, operator shu chatda javob beradi.",
	},
}

// NormalizeLocale はロケールを対応言語コードに正規化する。
// "ru-RU"や"RU"は"ru"になり、未対応はDefaultLocaleになる。
func NormalizeLocale(locale string) string {
	lang := strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(lang, "-_"); i >= 0 {
		lang = lang[:i]
	}
	if _, ok := templates[lang]; ok {
		return lang
	}
	return DefaultLocale
}

// Generate は受信テキストに対する自動応答文を返す。
// 同じ入力には常に同じ出力を返し、空文字は返さない。
func Generate(text, locale string) string {
	return templates[NormalizeLocale(locale)][classify(text)]
}

func classify(text string) intent {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	for _, r := range rules {
		for _, kw := range r.keywords {
			for _, w := range words {
				if matches(w, kw) {
					return r.intent
				}
			}
		}
	}
	return intentDefault
}

// 短いキーワードは完全一致、それ以外は前方一致で照合する。
// "hi"が"this"に、"ish"が"ishonch"に誤って一致しないようにする。
func matches(word, keyword string) bool {
	if len([]rune(keyword)) <= 3 {
		return word == keyword
	}
	return strings.HasPrefix(word, keyword)
}
