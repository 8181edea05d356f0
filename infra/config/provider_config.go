package config

import (
	"errors"
)

// ClickConfig holds the Click merchant credentials and endpoints.
// Credentials are passed explicitly into the gateway machine at construction
// so tests and environments can substitute their own.
type ClickConfig struct {
	ServiceID      string
	MerchantID     string
	MerchantUserID string
	SecretKey      string
	APIURL         string
	AllowedIPs     []string
}

// PaymeConfig holds the Payme merchant credentials and endpoints shared by
// the Merchant (JSON-RPC) and Subscribe (receipts) flavors.
type PaymeConfig struct {
	MerchantID  string
	Key         string
	APIURL      string
	CheckoutURL string
}

// TelegramConfig holds the notification channel credentials
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// Click official callback source addresses. The check is soft: unknown
// sources are logged, the signature still gates acceptance.
var defaultClickIPs = []string{
	"213.230.106.115",
	"3.120.138.118",
	"3.120.138.169",
	"3.120.138.181",
}

// LoadClickConfig builds the Click configuration from the environment
func LoadClickConfig() (ClickConfig, error) {
	cfg := ClickConfig{
		ServiceID:      GetEnv("CLICK_SERVICE_ID", ""),
		MerchantID:     GetEnv("CLICK_MERCHANT_ID", ""),
		MerchantUserID: GetEnv("CLICK_MERCHANT_USER_ID", ""),
		SecretKey:      GetEnv("CLICK_SECRET_KEY", ""),
		APIURL:         GetEnv("CLICK_API_URL", "https://api.click.uz/v2/merchant"),
		AllowedIPs:     GetListEnv("CLICK_ALLOWED_IPS"),
	}
	if len(cfg.AllowedIPs) == 0 {
		cfg.AllowedIPs = defaultClickIPs
	}
	if cfg.ServiceID == "" || cfg.SecretKey == "" {
		return cfg, errors.New("click: CLICK_SERVICE_ID and CLICK_SECRET_KEY are required")
	}
	return cfg, nil
}

// LoadPaymeConfig builds the Payme configuration from the environment
func LoadPaymeConfig() (PaymeConfig, error) {
	cfg := PaymeConfig{
		MerchantID:  GetEnv("PAYME_MERCHANT_ID", ""),
		Key:         GetEnv("PAYME_KEY", ""),
		APIURL:      GetEnv("PAYME_API_URL", "https://checkout.paycom.uz/api"),
		CheckoutURL: GetEnv("PAYME_CHECKOUT_URL", "https://checkout.paycom.uz"),
	}
	if cfg.MerchantID == "" || cfg.Key == "" {
		return cfg, errors.New("payme: PAYME_MERCHANT_ID and PAYME_KEY are required")
	}
	return cfg, nil
}

// LoadTelegramConfig builds the Telegram notifier configuration from the
// environment. Missing credentials are not an error: notification is a
// best-effort collaborator and the service runs without it.
func LoadTelegramConfig() TelegramConfig {
	return TelegramConfig{
		BotToken: GetEnv("TELEGRAM_BOT_TOKEN", ""),
		ChatID:   GetEnv("TELEGRAM_GROUP_ID", ""),
	}
}
