package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nutriflow/internal/app"
	"nutriflow/internal/config"
	"nutriflow/internal/metrics"
	"nutriflow/internal/planner"
	"nutriflow/internal/recipe"
	"nutriflow/internal/shopping"
	"nutriflow/internal/substitution"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// contextBloatTokens triggers an admin alert when a request used more
// prompt tokens than this.
const contextBloatTokens = 4000

// Bot wraps the Telegram API and the nutrition services.
type Bot struct {
	api *tgbotapi.BotAPI
	app *app.App
	cfg *config.Config
	log *zap.Logger
}

// NewBot initializes the Telegram Bot and sets the Webhook.
func NewBot(cfg *config.Config, application *app.App, log *zap.Logger) (*Bot, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}

	log.Info("authorized on telegram", zap.String("account", bot.Self.UserName))

	webhookURL := cfg.TelegramWebhookURL
	wh, _ := tgbotapi.NewWebhook(webhookURL)
	resp, err := bot.Request(wh)
	if err != nil {
		return nil, fmt.Errorf("failed to set webhook to %s: %w", webhookURL, err)
	}
	log.Info("webhook set", zap.String("response", resp.Description))

	return &Bot{api: bot, app: application, cfg: cfg, log: log}, nil
}

// RegisterHandlers registers the webhook and health handlers on mux.
func (b *Bot) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/webhook", b.handleWebhook)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func (b *Bot) handleWebhook(w http.ResponseWriter, r *http.Request) {
	update, err := b.api.HandleUpdate(r)
	if err != nil {
		b.log.Warn("error parsing update", zap.Error(err))
		return
	}

	if update.CallbackQuery != nil {
		if !b.isAllowed(update.CallbackQuery.From.ID) {
			return
		}
		go b.handleCallbackQuery(update.CallbackQuery)
		return
	}

	if update.Message == nil || update.Message.From == nil {
		return
	}

	if !b.isAllowed(update.Message.From.ID) {
		b.log.Warn("⚠️ unauthorized access attempt",
			zap.Int64("telegram_id", update.Message.From.ID),
			zap.String("username", update.Message.From.UserName),
		)
		return
	}

	go b.processMessage(update.Message)
}

func (b *Bot) isAllowed(id int64) bool {
	for _, allowed := range b.cfg.TelegramAllowedUserIDs {
		if id == allowed {
			return true
		}
	}
	return false
}

// Telegram users are stored under their numeric id.
func userIDFor(from *tgbotapi.User) string {
	return strconv.FormatInt(from.ID, 10)
}

func (b *Bot) processMessage(msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)

	if strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://") {
		b.handleImportRequest(msg, text)
		return
	}

	if !msg.IsCommand() {
		b.reply(msg.Chat.ID, helpText)
		return
	}

	args := strings.TrimSpace(msg.CommandArguments())
	switch msg.Command() {
	case "week":
		b.handleWeekRequest(msg, args)
	case "day":
		b.handleDayRequest(msg, args)
	case "check":
		b.handleCheckRequest(msg, args)
	case "subs":
		b.handleSubstitutionsRequest(msg, args)
	case "recipe":
		b.handleRecipeRequest(msg, args)
	case "shopping":
		b.handleShoppingRequest(msg)
	case "metrics":
		b.handleMetricsRequest(msg)
	default:
		b.reply(msg.Chat.ID, helpText)
	}
}

const helpText = "🥗 *Nutriflow*\n\n" +
	"/week `[meals]` plan next week\n" +
	"/day `[meals]` plan today\n" +
	"/check `<recipe id>` check a recipe against your allergies\n" +
	"/subs `<ingredient> [| avoid]` find substitutes\n" +
	"/recipe `<ingredient>` find or create a recipe\n" +
	"/shopping show the list of your latest plan\n\n" +
	"Send a recipe URL to add it to the catalog."

func (b *Bot) handleWeekRequest(msg *tgbotapi.Message, args string) {
	meals, err := parseMealsArg(args)
	if err != nil {
		b.reply(msg.Chat.ID, "❌ "+err.Error())
		return
	}

	sentMsg, err := b.sendStatus(msg.Chat.ID, "🧑‍🍳 *Thinking...* \n(Matching recipes to your targets)")
	if err != nil {
		return
	}

	ctx := context.Background()
	userID := userIDFor(msg.From)
	nextMonday := planner.GetNextMonday(time.Now())

	exists, err := b.app.PlanExistsForWeek(ctx, userID, nextMonday)
	if err != nil {
		b.log.Warn("failed to check existing plan", zap.String("user_id", userID), zap.Error(err))
	}
	if exists {
		promptText := fmt.Sprintf("🗓️ A plan already exists for next week (starting *%s*).\nWhat would you like to do?", nextMonday.Format("2006-01-02"))
		keyboard := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("🔄 Redo Next Week", fmt.Sprintf("redo|%d", meals)),
				tgbotapi.NewInlineKeyboardButtonData("⏭️ Plan Following Week", fmt.Sprintf("next|%d", meals)),
			),
		)
		edit := tgbotapi.NewEditMessageText(msg.Chat.ID, sentMsg.MessageID, promptText)
		edit.ParseMode = "Markdown"
		edit.ReplyMarkup = &keyboard
		b.api.Send(edit)
		return
	}

	b.generateAndSendWeek(ctx, userID, msg.Chat.ID, sentMsg.MessageID, meals, nextMonday)
}

func (b *Bot) handleCallbackQuery(query *tgbotapi.CallbackQuery) {
	if query.Message == nil {
		return
	}
	ctx := context.Background()
	userID := userIDFor(query.From)

	action, mealsArg, ok := strings.Cut(query.Data, "|")
	if !ok {
		return
	}
	meals, _ := strconv.Atoi(mealsArg)

	targetWeek := planner.GetNextMonday(time.Now())
	if action == "next" {
		targetWeek = planner.GetNextMonday(targetWeek)
	}

	// Answer callback to remove spinner
	b.api.Request(tgbotapi.NewCallback(query.ID, ""))

	edit := tgbotapi.NewEditMessageText(query.Message.Chat.ID, query.Message.MessageID, "🧑‍🍳 *Thinking...*")
	edit.ParseMode = "Markdown"
	b.api.Send(edit)

	b.generateAndSendWeek(ctx, userID, query.Message.Chat.ID, query.Message.MessageID, meals, targetWeek)
}

func (b *Bot) generateAndSendWeek(ctx context.Context, userID string, chatID int64, messageID int, meals int, weekStart time.Time) {
	res, err := b.app.PlanWeek(ctx, planner.WeekRequest{
		UserID:      userID,
		MealsPerDay: meals,
		WeekStart:   weekStart,
	})
	if err != nil {
		b.log.Error("error generating plan", zap.String("user_id", userID), zap.Error(err))
		b.editError(chatID, messageID, "Error generating plan", err)
		return
	}

	if res.Usage.PromptTokens > contextBloatTokens {
		b.sendAdminAlert(fmt.Sprintf("⚠️ *Context Bloat Alert*\nAgent: Planner\nModel: %s\nPrompt Tokens: %d", res.Usage.Model, res.Usage.PromptTokens))
	}

	edit := tgbotapi.NewEditMessageText(chatID, messageID, formatWeekMarkdown(res.Plan))
	edit.ParseMode = "Markdown"
	b.api.Send(edit)

	shoppingMsg := tgbotapi.NewMessage(chatID, formatShoppingList(res.Shopping))
	shoppingMsg.ParseMode = "Markdown"
	b.api.Send(shoppingMsg)
}

func (b *Bot) handleDayRequest(msg *tgbotapi.Message, args string) {
	meals, err := parseMealsArg(args)
	if err != nil {
		b.reply(msg.Chat.ID, "❌ "+err.Error())
		return
	}
	sentMsg, err := b.sendStatus(msg.Chat.ID, "🧑‍🍳 *Thinking...*")
	if err != nil {
		return
	}

	day, err := b.app.PlanDay(context.Background(), planner.DayRequest{
		UserID:      userIDFor(msg.From),
		MealsPerDay: meals,
	})
	if err != nil {
		b.editError(msg.Chat.ID, sentMsg.MessageID, "Error planning day", err)
		return
	}

	edit := tgbotapi.NewEditMessageText(msg.Chat.ID, sentMsg.MessageID, formatDayMarkdown(day))
	edit.ParseMode = "Markdown"
	b.api.Send(edit)
}

func (b *Bot) handleCheckRequest(msg *tgbotapi.Message, recipeID string) {
	if recipeID == "" {
		b.reply(msg.Chat.ID, "Usage: /check `<recipe id>`")
		return
	}
	res, err := b.app.CheckRecipe(context.Background(), recipeID, userIDFor(msg.From))
	if err != nil {
		b.reply(msg.Chat.ID, "❌ "+escapeMarkdown(err.Error()))
		return
	}
	b.reply(msg.Chat.ID, formatCheckResult(res))
}

func (b *Bot) handleSubstitutionsRequest(msg *tgbotapi.Message, args string) {
	ingredient, avoid := parseSubsArgs(args)
	if ingredient == "" {
		b.reply(msg.Chat.ID, "Usage: /subs `<ingredient> [| avoid]`")
		return
	}
	subs, err := b.app.Substitutions(context.Background(), ingredient, avoid)
	if err != nil {
		b.reply(msg.Chat.ID, "❌ "+escapeMarkdown(err.Error()))
		return
	}
	b.reply(msg.Chat.ID, formatSuggestions(ingredient, subs))
}

func (b *Bot) handleRecipeRequest(msg *tgbotapi.Message, ingredient string) {
	if ingredient == "" {
		b.reply(msg.Chat.ID, "Usage: /recipe `<ingredient>`")
		return
	}
	sentMsg, err := b.sendStatus(msg.Chat.ID, "🔎 *Looking for a recipe...*")
	if err != nil {
		return
	}
	rec, err := b.app.RecipeForIngredient(context.Background(), ingredient)
	if err != nil {
		b.editError(msg.Chat.ID, sentMsg.MessageID, "Error finding recipe", err)
		return
	}
	edit := tgbotapi.NewEditMessageText(msg.Chat.ID, sentMsg.MessageID, formatRecipe(rec))
	edit.ParseMode = "Markdown"
	b.api.Send(edit)
}

func (b *Bot) handleShoppingRequest(msg *tgbotapi.Message) {
	ctx := context.Background()
	plans, err := b.app.RecentPlans(ctx, userIDFor(msg.From), 1)
	if err != nil {
		b.log.Warn("failed to list plans", zap.Error(err))
		b.reply(msg.Chat.ID, "❌ Error fetching your plans.")
		return
	}
	if len(plans) == 0 {
		b.reply(msg.Chat.ID, "You have no plans yet. Try /week.")
		return
	}

	list, err := b.app.ShoppingList(ctx, plans[0].ID)
	if err != nil {
		b.log.Warn("failed to load shopping list", zap.String("plan_id", plans[0].ID), zap.Error(err))
		b.reply(msg.Chat.ID, "❌ Error fetching the shopping list.")
		return
	}
	b.reply(msg.Chat.ID, fmt.Sprintf("Week of %s\n\n%s", plans[0].WeekStart.Format("2006-01-02"), formatShoppingList(list)))
}

func (b *Bot) handleImportRequest(msg *tgbotapi.Message, url string) {
	sentMsg, err := b.sendStatus(msg.Chat.ID, "✂️ *Clipping recipe...* \n(Extracting and saving to the catalog)")
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	rec, err := b.app.ImportRecipe(ctx, url)
	if err != nil {
		b.log.Warn("error clipping recipe", zap.String("url", url), zap.Error(err))
		b.editError(msg.Chat.ID, sentMsg.MessageID, "Error clipping recipe", err)
		return
	}

	finalText := fmt.Sprintf("✅ *Recipe Saved!*\n\n*Title:* %s\n*ID:* `%s`", escapeMarkdown(rec.Title), rec.ID)
	edit := tgbotapi.NewEditMessageText(msg.Chat.ID, sentMsg.MessageID, finalText)
	edit.ParseMode = "Markdown"
	b.api.Send(edit)
}

func (b *Bot) handleMetricsRequest(msg *tgbotapi.Message) {
	if msg.From.ID != b.cfg.AdminTelegramID {
		b.api.Send(tgbotapi.NewMessage(msg.Chat.ID, "⛔ Access Denied: Admin only."))
		return
	}

	usage, health, err := b.app.Usage(context.Background(), 7)
	if err != nil {
		b.api.Send(tgbotapi.NewMessage(msg.Chat.ID, "❌ Error fetching metrics."))
		return
	}
	b.reply(msg.Chat.ID, formatUsageReport(usage, health))
}

func (b *Bot) sendStatus(chatID int64, text string) (tgbotapi.Message, error) {
	m := tgbotapi.NewMessage(chatID, text)
	m.ParseMode = "Markdown"
	sent, err := b.api.Send(m)
	if err != nil {
		b.log.Warn("failed to send initial reply", zap.Error(err))
	}
	return sent, err
}

func (b *Bot) reply(chatID int64, text string) {
	m := tgbotapi.NewMessage(chatID, text)
	m.ParseMode = "Markdown"
	if _, err := b.api.Send(m); err != nil {
		b.log.Warn("failed to send reply", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) editError(chatID int64, messageID int, title string, err error) {
	safeErr := strings.ReplaceAll(err.Error(), "`", "'")
	edit := tgbotapi.NewEditMessageText(chatID, messageID, fmt.Sprintf("❌ *%s:*\n```\n%v\n```", title, safeErr))
	edit.ParseMode = "Markdown"
	b.api.Send(edit)
}

func (b *Bot) sendAdminAlert(text string) {
	if b.cfg.AdminTelegramID == 0 {
		return
	}
	msg := tgbotapi.NewMessage(b.cfg.AdminTelegramID, text)
	msg.ParseMode = "Markdown"
	b.api.Send(msg)
}

// parseMealsArg reads the optional meal count. Empty means the default.
func parseMealsArg(args string) (int, error) {
	if args == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(args)
	if err != nil || n < 1 || n > planner.MaxMealsPerDay {
		return 0, fmt.Errorf("meals per day must be a number between 1 and %d", planner.MaxMealsPerDay)
	}
	return n, nil
}

// parseSubsArgs splits "peanut butter | peanut" into ingredient and avoid.
func parseSubsArgs(args string) (string, string) {
	ingredient, avoid, _ := strings.Cut(args, "|")
	return strings.TrimSpace(ingredient), strings.TrimSpace(avoid)
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

func formatWeekMarkdown(plan *planner.WeeklyPlan) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📅 *Weekly Meal Plan* (%s)\n\n", plan.WeekStart.Format("2006-01-02")))
	for i := range plan.Days {
		writeDay(&sb, &plan.Days[i])
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatDayMarkdown(day *planner.DailyPlan) string {
	var sb strings.Builder
	sb.WriteString("🍽 *Today's Meals*\n\n")
	writeDay(&sb, day)
	return strings.TrimRight(sb.String(), "\n")
}

func writeDay(sb *strings.Builder, day *planner.DailyPlan) {
	sb.WriteString(fmt.Sprintf("*%s*", day.Day))
	if total := day.TotalCalories(); total > 0 {
		sb.WriteString(fmt.Sprintf(" (%.0f kcal)", total))
	}
	sb.WriteString("\n")
	for _, m := range day.Meals {
		sb.WriteString(fmt.Sprintf("• %s: %s", mealLabel(m.MealType), escapeMarkdown(m.Recipe.Title)))
		if mins := m.Recipe.TotalTimeMinutes(); mins > 0 {
			sb.WriteString(fmt.Sprintf(" (%d mins)", mins))
		}
		if m.Source == planner.SourceOracle {
			sb.WriteString(" ✨")
		}
		sb.WriteString("\n")
	}
	for _, d := range day.Diagnostics {
		label := "Day"
		if d.MealType != "" {
			label = mealLabel(d.MealType)
		}
		sb.WriteString(fmt.Sprintf("_%s skipped: %s_\n", label, escapeMarkdown(d.Message)))
	}
}

// mealLabel turns DINNER into Dinner.
func mealLabel(t planner.MealType) string {
	s := strings.ToLower(string(t))
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func formatShoppingList(list *shopping.ShoppingList) string {
	var sb strings.Builder
	sb.WriteString("🛒 *Shopping List*\n\n")
	if list == nil || len(list.Items) == 0 {
		sb.WriteString("_Nothing to buy_")
		return sb.String()
	}
	for _, item := range list.Items {
		sb.WriteString(fmt.Sprintf("• %s\n", escapeMarkdown(item.String())))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatCheckResult(res *substitution.CheckResult) string {
	if !res.HasAllergens {
		return fmt.Sprintf("✅ Recipe `%s` is safe for you.", res.RecipeID)
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("⚠️ *Allergens found in* `%s`\n\n", res.RecipeID))
	for _, o := range res.Offenders {
		sb.WriteString(fmt.Sprintf("• %s (%s)\n", escapeMarkdown(o.Ingredient), escapeMarkdown(o.Allergen)))
	}
	if len(res.Suggestions) > 0 {
		sb.WriteString("\n🔁 *Substitutes*\n")
		for _, s := range res.Suggestions {
			sb.WriteString(fmt.Sprintf("• %s → %s", escapeMarkdown(s.Ingredient), escapeMarkdown(s.Substitute)))
			if s.Note != "" {
				sb.WriteString(fmt.Sprintf(" _%s_", escapeMarkdown(s.Note)))
			}
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatSuggestions(ingredient string, subs []substitution.Suggestion) string {
	if len(subs) == 0 {
		return fmt.Sprintf("No substitutes known for *%s*.", escapeMarkdown(ingredient))
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🔁 *Substitutes for %s*\n\n", escapeMarkdown(ingredient)))
	for _, s := range subs {
		sb.WriteString(fmt.Sprintf("• %s", escapeMarkdown(s.Substitute)))
		if s.Note != "" {
			sb.WriteString(fmt.Sprintf(" _%s_", escapeMarkdown(s.Note)))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatRecipe(rec *recipe.Recipe) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🍲 *%s*\n", escapeMarkdown(rec.Title)))
	if rec.Calories != nil {
		sb.WriteString(fmt.Sprintf("%.0f kcal", *rec.Calories))
		if mins := rec.TotalTimeMinutes(); mins > 0 {
			sb.WriteString(fmt.Sprintf(" · %d mins", mins))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	for _, ing := range rec.Ingredients {
		item := shopping.Item{Name: ing.Name, Quantity: ing.Quantity, Unit: ing.Unit}
		sb.WriteString(fmt.Sprintf("• %s\n", escapeMarkdown(item.String())))
	}
	for i, step := range rec.Instructions {
		if i == 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, escapeMarkdown(step)))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatUsageReport(usage []metrics.DailyUsage, health metrics.SysHealth) string {
	var sb strings.Builder
	sb.WriteString("📊 *Usage & Health Report*\n\n")

	sb.WriteString("🗓 *Recent LLM Activity*\n")
	if len(usage) == 0 {
		sb.WriteString("_No data yet_\n")
	}
	for _, d := range usage {
		sb.WriteString(fmt.Sprintf("• *%s*: %d tokens (%d execs)\n", d.Date, d.TotalPrompt+d.TotalCompletion, d.TotalExecution))
	}

	sb.WriteString("\n🧠 *System Health*\n")
	sb.WriteString(fmt.Sprintf("• RAM: %dMB (Alloc) / %dMB (Sys)\n", health.AllocMB, health.SysMB))
	sb.WriteString(fmt.Sprintf("• Goroutines: %d\n", health.Goroutines))
	sb.WriteString(fmt.Sprintf("• Database: %s", health.DatabaseSize))
	return sb.String()
}
