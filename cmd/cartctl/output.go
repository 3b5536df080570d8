package main

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"storefront-cart/internal/handler"
)

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func disableColors() {
	colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
	colorCyan, colorGray, colorBold = "", "", ""
}

// printCart renders a cart view as a table. Quiet mode prints only the
// item count and total.
func printCart(v *handler.CartView) {
	if v == nil || v.Cart == nil {
		return
	}
	if quiet {
		fmt.Printf("%d %.2f\n", v.ItemCount, v.Total)
		return
	}

	fmt.Printf("%s%s cart%s", colorBold, v.Mode, colorReset)
	if v.Cart.CartID != 0 {
		fmt.Printf(" #%d", v.Cart.CartID)
	}
	fmt.Println()
	if v.ReauthRequired {
		printWarning("session expired; changes are kept as a guest cart")
	}

	if v.IsEmpty {
		fmt.Printf("  %s(empty)%s\n", colorGray, colorReset)
		return
	}

	for _, line := range v.Cart.Items {
		name := "?"
		if line.ProductName != nil {
			name = *line.ProductName
		}
		price := 0.0
		if line.UnitPrice != nil {
			price = *line.UnitPrice
		}
		fmt.Printf("  %6d  %-30s %3d x %8.2f = %9.2f\n",
			line.ProductID, truncate(name, 30), line.Quantity, price, line.Subtotal)
	}
	fmt.Printf("  %s%d items, %d lines, total %.2f%s\n",
		colorBold, v.ItemCount, v.LineCount, v.Total, colorReset)
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

func printResponse(method, path string, status int, body []byte, duration time.Duration) {
	statusColor := colorGreen
	if status >= 400 {
		statusColor = colorRed
	}
	fmt.Printf("%s◀ %s %s%s %s%d%s (%v)\n", colorCyan, method, path, colorReset, statusColor, status, colorReset, duration)
	printJSON(body, "  ")
}

func printJSON(data []byte, prefix string) {
	if len(data) == 0 {
		return
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, prefix, "  "); err != nil {
		fmt.Printf("%s%s\n", prefix, string(data))
		return
	}
	fmt.Println(prefix + strings.TrimSpace(pretty.String()))
}

func printSuccess(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf("%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
	}
}

func printError(format string, args ...interface{}) {
	fmt.Printf("%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
}

func printWarning(format string, args ...interface{}) {
	fmt.Printf("%s⚠ %s%s\n", colorYellow, fmt.Sprintf(format, args...), colorReset)
}

func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf("%s→ %s%s\n", colorGray, fmt.Sprintf(format, args...), colorReset)
	}
}
