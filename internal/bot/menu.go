package bot

import (
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"gmailfarm-bot/internal/withdraw"
)

// Reply keyboard labels and the actions they trigger.
const (
	labelWork        = "🚀 Start Work"
	labelAccount     = "👤 My Account"
	labelBonus       = "🎁 Daily Bonus"
	labelLeaderboard = "🏆 Leaderboard"
	labelWithdraw    = "💸 Withdraw"
	labelNotice      = "📢 Notice"
	labelReferral    = "🤝 My Referral"
	labelSupport     = "🆘 Support"
	labelSell        = "📧 Mail Sell"
	labelVIP         = "👑 VIP"
	labelHelp        = "❓ Help"
	labelMenu        = "🏠 Main Menu"
)

var labelActions = map[string]string{
	labelWork:        "task",
	labelAccount:     "account",
	labelBonus:       "bonus",
	labelLeaderboard: "leaderboard",
	labelWithdraw:    "withdraw",
	labelNotice:      "notice",
	labelReferral:    "referral",
	labelSupport:     "support",
	labelSell:        "sell",
	labelVIP:         "vip",
	labelHelp:        "help",
	labelMenu:        "menu",
}

func mainKeyboard() *telego.ReplyKeyboardMarkup {
	return tu.Keyboard(
		tu.KeyboardRow(tu.KeyboardButton(labelWork), tu.KeyboardButton(labelAccount)),
		tu.KeyboardRow(tu.KeyboardButton(labelBonus), tu.KeyboardButton(labelLeaderboard)),
		tu.KeyboardRow(tu.KeyboardButton(labelWithdraw), tu.KeyboardButton(labelReferral)),
		tu.KeyboardRow(tu.KeyboardButton(labelSell), tu.KeyboardButton(labelVIP)),
		tu.KeyboardRow(tu.KeyboardButton(labelNotice), tu.KeyboardButton(labelSupport), tu.KeyboardButton(labelHelp)),
	).WithResizeKeyboard()
}

func taskKeyboard() *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("✅ Check Login").WithCallbackData("check_login"),
			tu.InlineKeyboardButton("📸 Submit Proof").WithCallbackData("submit_proof"),
		),
	)
}

func methodKeyboard() *telego.InlineKeyboardMarkup {
	row := make([]telego.InlineKeyboardButton, 0, len(withdraw.Methods))
	for _, m := range withdraw.Methods {
		row = append(row, tu.InlineKeyboardButton(methodTitle(m)).WithCallbackData("wd_method:"+m))
	}
	return tu.InlineKeyboard(row, tu.InlineKeyboardRow(tu.InlineKeyboardButton("« Cancel").WithCallbackData("cancel")))
}

func methodTitle(m string) string {
	switch m {
	case withdraw.MethodBkash:
		return "bKash"
	case withdraw.MethodNagad:
		return "Nagad"
	case withdraw.MethodRocket:
		return "Rocket"
	}
	return m
}

func adminKeyboard() *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("📊 Stats").WithCallbackData("adm_stats"),
			tu.InlineKeyboardButton("🔍 Reviews").WithCallbackData("adm_reviews"),
		),
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("💸 Payouts").WithCallbackData("adm_payouts"),
			tu.InlineKeyboardButton("🆘 Tickets").WithCallbackData("adm_tickets"),
		),
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("⚙️ Rates").WithCallbackData("adm_rates"),
			tu.InlineKeyboardButton("📧 Sales").WithCallbackData("adm_sales"),
		),
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("📤 Export").WithCallbackData("adm_export"),
			tu.InlineKeyboardButton("📣 Broadcast").WithCallbackData("adm_broadcast"),
		),
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("🚫 Ban / Unban").WithCallbackData("adm_ban"),
		),
	)
}

// decisionKeyboard builds a two-button row whose callbacks carry id.
func decisionKeyboard(yes, yesAction, no, noAction string, id any) *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton(yes).WithCallbackData(fmt.Sprintf("%s:%v", yesAction, id)),
			tu.InlineKeyboardButton(no).WithCallbackData(fmt.Sprintf("%s:%v", noAction, id)),
		),
	)
}
