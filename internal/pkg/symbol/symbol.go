package symbol

import (
	"strings"
)

type Symbol struct {
	Base  string
	Quote string
}

// Exchange 返回交易所下单格式，例如 BTCUSDT。
func (s Symbol) Exchange() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

var quoteCurrencies = []string{"USDT", "BUSD", "USDC", "TUSD", "FDUSD", "BTC", "ETH", "BNB"}

// Parse 识别 BTC/USDT、BTC/USDT:USDT、btcusdt 等写法。
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	s = strings.ReplaceAll(s, "-", "/")
	s = strings.ReplaceAll(s, "_", "/")
	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{
			Base:  strings.TrimSpace(parts[0]),
			Quote: strings.TrimSpace(parts[1]),
		}
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{
				Base:  s[:len(s)-len(quote)],
				Quote: quote,
			}
		}
	}
	return Symbol{}
}

// Normalize 返回交易所格式；无法识别报价币时原样大写返回。
func Normalize(s string) string {
	if out := Parse(s).Exchange(); out != "" {
		return out
	}
	return strings.ToUpper(strings.TrimSpace(s))
}
