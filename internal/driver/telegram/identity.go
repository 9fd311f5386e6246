package telegram

import "snipebot/pkg/snipebot"

const (
	// DriverType is the configured driver type token for the Telegram runtime.
	DriverType = "telegram"
	// DriverPlatform is the neutral platform produced by the Telegram runtime.
	DriverPlatform snipebot.Platform = snipebot.PlatformTelegram
)
