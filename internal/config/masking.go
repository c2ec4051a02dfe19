package config

import "strings"

// maskSecret маскирует секрет, оставляя только первые 4 и последние 4 символа
func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) < 8 {
		return "***"
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}

// MaskTelegramToken keeps the bot id visible and masks the secret part.
func MaskTelegramToken(token string) string {
	botID, secret, ok := strings.Cut(token, ":")
	if !ok {
		return maskSecret(token)
	}
	return botID + ":" + maskSecret(secret)
}

// Redacted returns a copy safe to print: secrets and header values masked.
func (c *Config) Redacted() Config {
	out := *c
	out.Notify.Telegram.Token = MaskTelegramToken(c.Notify.Telegram.Token)

	out.Callables = make([]CallableConfig, len(c.Callables))
	for i, cl := range c.Callables {
		if len(cl.Headers) > 0 {
			headers := make(map[string]string, len(cl.Headers))
			for k, v := range cl.Headers {
				headers[k] = maskSecret(v)
			}
			cl.Headers = headers
		}
		if len(cl.Env) > 0 {
			env := make(map[string]string, len(cl.Env))
			for k, v := range cl.Env {
				env[k] = maskSecret(v)
			}
			cl.Env = env
		}
		out.Callables[i] = cl
	}
	return out
}
