package handler

import (
	"errors"
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"riddle-pool-bot/internal/model"
	"riddle-pool-bot/internal/service"
)

const helpText = "🤖 <b>Riddle Pool Commands</b>\n\n" +
	"/start - Get started or reconnect your wallet\n" +
	"/problem - View the current riddle\n" +
	"/balance - Show your wallet balance\n" +
	"/help - Show this help message\n\n" +
	"<b>How to play:</b>\n" +
	"1. Connect your wallet\n" +
	"2. Read the current riddle\n" +
	"3. Send your answer as a message (each guess costs a small fee)\n" +
	"4. The first correct answer wins the prize pool\n\n" +
	"<b>Rules:</b>\n" +
	"• Every guess adds its fee to the pool\n" +
	"• The winner takes %s of the pool\n" +
	"• The rest rolls over into the next round\n" +
	"• The guess cost rises the longer a riddle stays unsolved"

// money formats an amount the way players see it.
func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func percent(ratio decimal.Decimal) string {
	return ratio.Mul(decimal.NewFromInt(100)).Round(0).String() + "%"
}

// connectLink appends the player's Telegram id to the bridge's connect URL.
func connectLink(base string, telegramID int64) string {
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("user_id", strconv.FormatInt(telegramID, 10))
	u.RawQuery = q.Encode()
	return u.String()
}

func connectLine(link string) string {
	if link == "" {
		return "Ask an admin for the wallet connection link."
	}
	return fmt.Sprintf("Connect your wallet: <a href=\"%s\">%s</a>", html.EscapeString(link), "open connection page")
}

func formatWelcome(name string, player *model.Player, created bool, link string) string {
	name = html.EscapeString(name)
	if player != nil && player.Connected() {
		return fmt.Sprintf("🎯 <b>Welcome back, %s!</b>\n\n"+
			"You're all set up and ready to play.\n\n"+
			"Type /problem to see the current riddle.\n"+
			"Type /help for commands.", name)
	}
	if !created {
		return fmt.Sprintf("🎯 <b>Welcome back, %s!</b>\n\n"+
			"You still need to connect your wallet:\n%s\n\n"+
			"Once connected, you can start playing.", name, connectLine(link))
	}
	return fmt.Sprintf("🎯 <b>Welcome to Riddle Pool, %s!</b>\n\n"+
		"To play, connect your wallet first. It lets you:\n"+
		"• Pay the small fee for each guess\n"+
		"• Receive prize winnings\n\n"+
		"%s\n\n"+
		"Type /help for more information.", name, connectLine(link))
}

func formatRound(v *service.RoundView) string {
	return fmt.Sprintf("🧩 <b>Current Riddle</b> (round #%d)\n\n"+
		"%s\n\n"+
		"💰 Prize pool: %s\n"+
		"💸 Cost per guess: %s\n"+
		"⏱ Open for %s\n"+
		"🔢 Guesses so far: %d\n\n"+
		"Send me your answer to make a guess.",
		v.RoundID, html.EscapeString(v.Prompt), money(v.PoolTotal), money(v.CurrentCost),
		formatHours(v.ElapsedHours), v.Attempts)
}

func formatHours(h float64) string {
	if h < 1 {
		return fmt.Sprintf("%d min", int(h*60))
	}
	return fmt.Sprintf("%.1f h", h)
}

func formatAttempt(guess string, r *service.AttemptResult) string {
	guess = html.EscapeString(strings.TrimSpace(guess))
	if r.Win == nil {
		return fmt.Sprintf("❌ <b>Not quite.</b>\n\n"+
			"Your guess: \"%s\"\n"+
			"Charged: %s\n"+
			"💰 Prize pool is now %s.\n\n"+
			"Try again whenever you like.", guess, money(r.Cost), money(r.PoolTotal))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🎉 <b>Correct!</b>\n\n"+
		"\"%s\" solves round #%d.\n"+
		"You win %s (pool %s, %s rolls over).\n",
		guess, r.RoundID, money(r.Win.WinnerShare), money(r.PoolTotal), money(r.Win.RolloverShare))

	switch r.Win.PayoutStatus {
	case model.PayoutSucceeded:
		b.WriteString("💸 The prize has been sent to your wallet.")
	case model.PayoutFailed:
		b.WriteString("⚠️ The payout did not go through yet. Your win is recorded and the prize will be retried.")
	default:
		b.WriteString("⏳ The payout is being processed.")
	}
	if r.Win.NextRound != nil {
		b.WriteString("\n\nA new riddle is up. Type /problem to see it.")
	}
	return b.String()
}

func formatBalance(raw string) string {
	return fmt.Sprintf("💰 <b>Wallet balance</b>\n\n%s", html.EscapeString(raw))
}

func formatPayout(o *service.PayoutOutcome) string {
	switch o.Status {
	case model.PayoutSucceeded:
		return fmt.Sprintf("✅ Round #%d: paid %s to player %d", o.RoundID, money(o.Amount), o.PlayerID)
	default:
		return fmt.Sprintf("⚠️ Round #%d: payout %s, reason: %s", o.RoundID, o.Status, html.EscapeString(o.Reason))
	}
}

func formatUnpaid(pools []*model.PrizePool) string {
	if len(pools) == 0 {
		return "✅ No unpaid prize pools"
	}
	var b strings.Builder
	b.WriteString("📋 <b>Unpaid prize pools</b>\n")
	for _, p := range pools {
		share := "-"
		if p.WinnerShare.Valid {
			share = money(p.WinnerShare.Decimal)
		}
		fmt.Fprintf(&b, "\n#%d %s %s", p.RoundID, share, p.PayoutStatus)
		if p.PayoutError != nil && *p.PayoutError != "" {
			fmt.Fprintf(&b, " (%s)", html.EscapeString(*p.PayoutError))
		}
	}
	return b.String()
}

// errorMessage maps service errors to player-facing text.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrEmptyGuess):
		return "✍️ Send your answer as a plain text message."
	case errors.Is(err, service.ErrWalletNotConnected):
		return "❌ <b>Wallet not connected</b>\n\nConnect your wallet first. Type /start to get the connection link."
	case errors.Is(err, service.ErrTokenExpired):
		return "🔑 Your wallet connection has expired. Type /start to reconnect."
	case errors.Is(err, service.ErrAttemptInFlight):
		return "⏳ Your previous guess is still being processed. Please wait a moment."
	case errors.Is(err, service.ErrPaymentFailed):
		return "💳 The payment did not go through, so your guess was not counted."
	case errors.Is(err, service.ErrSettlementPersistence):
		return "⚠️ You were charged but your guess could not be recorded. An admin has been alerted and will reconcile it."
	case errors.Is(err, service.ErrNoActiveRound):
		return "🧩 There is no riddle available right now. Please check back later."
	case errors.Is(err, service.ErrInvalidAnswerCommitment):
		return "⚠️ The current riddle is misconfigured. Guesses are paused until an admin fixes it."
	case errors.Is(err, service.ErrInvalidState):
		return "❌ " + html.EscapeString(err.Error())
	case errors.Is(err, service.ErrPlayerNotFound):
		return "❌ Player not found."
	default:
		return "❌ Something went wrong, please try again later."
	}
}
