package utils

import (
	"strings"
)

// Common A-share aliases mapped to their Tushare ts_codes.
var tsCodeAliases = map[string]string{
	"贵州茅台": "600519.SH",
	"茅台":   "600519.SH",
	"MOUTAI": "600519.SH",
	"中国平安": "601318.SH",
	"平安":   "601318.SH",
	"招商银行": "600036.SH",
	"招行":   "600036.SH",
	"工商银行": "601398.SH",
	"工行":   "601398.SH",
	"五粮液":  "000858.SZ",
	"比亚迪":  "002594.SZ",
	"BYD":  "002594.SZ",
	"宁德时代": "300750.SZ",
	"宁德":   "300750.SZ",
}

// NormalizeTSCode normalizes user input to the Tushare ts_code format.
// It handles aliases, lowercase suffixes, and bare six-digit codes, whose
// exchange suffix is inferred from the code prefix.
func NormalizeTSCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))

	if canonical, ok := tsCodeAliases[code]; ok {
		return canonical
	}

	// Bare code: infer the exchange from the leading digits.
	if isDigits(code) && len(code) == 6 {
		return code + "." + inferExchange(code)
	}

	return code
}

// inferExchange maps a bare A-share code to its exchange suffix. Codes
// starting with 6 or 9 trade on Shanghai, 4 and 8 on the Beijing exchange,
// the rest on Shenzhen.
func inferExchange(code string) string {
	switch code[0] {
	case '6', '9':
		return "SH"
	case '4', '8':
		return "BJ"
	default:
		return "SZ"
	}
}

// FromTSCode strips the exchange suffix to get the bare code.
func FromTSCode(tsCode string) string {
	if i := strings.IndexByte(tsCode, '.'); i >= 0 {
		return tsCode[:i]
	}
	return tsCode
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
