package app

import "strconv"

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

func colorize(code, s string, color bool) string {
	if !color || s == "" {
		return s
	}
	return code + s + ansiReset
}

func applyDim(s string, color bool) string  { return colorize(ansiDim, s, color) }
func applyBold(s string, color bool) string { return colorize(ansiBright, s, color) }

func colorizeHTTPMethod(m string, color bool) string {
	switch m {
	case "GET", "HEAD":
		return colorize(ansiBlue, m, color)
	case "POST":
		return colorize(ansiGreen, m, color)
	case "PUT", "PATCH":
		return colorize(ansiYellow, m, color)
	case "DELETE":
		return colorize(ansiRed, m, color)
	default:
		return colorize(ansiMagenta, m, color)
	}
}

func colorizeStatusCode(code int, color bool) string {
	return colorize(statusColor(code), strconv.Itoa(code), color)
}

func colorizeStatusClass(class string, color bool) string {
	switch class {
	case "2xx":
		return colorize(ansiGreen, class, color)
	case "3xx":
		return colorize(ansiCyan, class, color)
	case "4xx":
		return colorize(ansiYellow, class, color)
	case "5xx":
		return colorize(ansiRed, class, color)
	default:
		return class
	}
}

func statusColor(code int) string {
	switch {
	case code >= 500:
		return ansiRed
	case code >= 400:
		return ansiYellow
	case code >= 300:
		return ansiCyan
	default:
		return ansiGreen
	}
}

// colorizeDurationMS renders n milliseconds, highlighting slow requests.
func colorizeDurationMS(n int64, color bool) string {
	s := strconv.FormatInt(n, 10) + "ms"
	switch {
	case n >= 1000:
		return colorize(ansiRed, s, color)
	case n >= 250:
		return colorize(ansiYellow, s, color)
	default:
		return colorize(ansiDim, s, color)
	}
}

func colorizeResult(result string, color bool) string {
	switch result {
	case "success":
		return colorize(ansiGreen, result, color)
	case "redirect":
		return colorize(ansiCyan, result, color)
	case "client_error":
		return colorize(ansiYellow, result, color)
	case "server_error":
		return colorize(ansiRed, result, color)
	default:
		return result
	}
}
