package auth

import "fmt"

var tokenGuides = map[string]string{
	ServiceApify: `Apify API token
  1. Sign in at https://console.apify.com
  2. Open Settings > Integrations
  3. Copy the "Personal API token" (starts with apify_api_)`,
	ServiceDiscord: `Discord bot token
  1. Open https://discord.com/developers/applications and select your app
  2. Go to Bot > Reset Token and copy it
  3. The bot must share a server with every recipient it DMs`,
	ServiceTelegram: `Telegram bot token
  1. Message @BotFather and send /newbot (or /token for an existing bot)
  2. Copy the token in the form 123456:ABC-DEF...
  3. Recipients must have started a chat with the bot`,
}

// TokenGuide returns short instructions for obtaining the token of service
func TokenGuide(service string) string {
	if guide, ok := tokenGuides[service]; ok {
		return guide
	}
	return fmt.Sprintf("unknown service %q (known: apify, discord, telegram)", service)
}
