package responder

var linkInstructions = map[string]string{
	"en": "Hi! This chat is not linked to an iCore account yet. Open Settings → Telegram in iCore and press \"Connect\" to link it. Your message has been saved and will be delivered once linked.",
	"ru": "Здравствуйте! Этот чат ещё не привязан к аккаунту iCore. Откройте «Настройки → Telegram» в iCore и нажмите «Подключить». Ваше сообщение сохранено и будет доставлено после привязки.",
	"uz": "Salom! Bu chat hali iCore hisobiga ulanmagan. iCore'da «Sozlamalar → Telegram» bo'limini ochib, «Ulash» tugmasini bosing. Xabaringiz saqlandi va ulangandan so'ng yetkaziladi.",
}

var linkSucceeded = map[string]string{
	"en": "Your Telegram is now linked to iCore. You will receive replies from our team here.",
	"ru": "Telegram успешно привязан к iCore. Ответы нашей команды будут приходить сюда.",
	"uz": "Telegram iCore hisobingizga ulandi. Jamoamiz javoblari shu yerga keladi.",
}

var linkFailed = map[string]string{
	"en": "This link is no longer valid. Please request a new link in iCore (Settings → Telegram).",
	"ru": "Эта ссылка больше не действительна. Запросите новую ссылку в iCore («Настройки → Telegram»).",
	"uz": "Bu havola endi yaroqsiz. iCore'da yangi havola so'rang («Sozlamalar → Telegram»).",
}

var linkConflict = map[string]string{
	"en": "This Telegram account is already linked to another iCore account. Unlink it there first, then try again.",
	"ru": "Этот Telegram уже привязан к другому аккаунту iCore. Сначала отвяжите его там, затем повторите попытку.",
	"uz": "Bu Telegram boshqa iCore hisobiga ulangan. Avval u yerda uzing, so'ng qayta urinib ko'ring.",
}

// LinkInstructions は未連携チャットに送る連携手順を返す。
func LinkInstructions(locale string) string {
	return linkInstructions[NormalizeLocale(locale)]
}

// LinkSucceeded は連携完了の通知文を返す。
func LinkSucceeded(locale string) string {
	return linkSucceeded[NormalizeLocale(locale)]
}

// LinkFailed は期限切れ・使用済み・不明なトークンに対する案内を返す。
func LinkFailed(locale string) string {
	return linkFailed[NormalizeLocale(locale)]
}

// LinkConflict はチャットが別アカウントに紐付いている場合の案内を返す。
func LinkConflict(locale string) string {
	return linkConflict[NormalizeLocale(locale)]
}
