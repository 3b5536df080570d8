package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"storefront-cart/internal/handler"
	"storefront-cart/internal/model"
)

const requestTimeout = 30 * time.Second

var addQty int

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current cart",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cartRequest(cmd.Context(), http.MethodGet, "/cart", nil)
	},
}

var addCmd = &cobra.Command{
	Use:   "add <product-id>",
	Short: "Add a product to the cart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return cartRequest(cmd.Context(), http.MethodPost, "/cart/items",
			map[string]any{"productId": id, "quantity": addQty})
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <product-id> <quantity>",
	Short: "Set a product's quantity; 0 removes it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		qty, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid quantity %q", args[1])
		}
		return cartRequest(cmd.Context(), http.MethodPut, fmt.Sprintf("/cart/items/%d", id),
			map[string]any{"quantity": qty})
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <product-id>",
	Short: "Remove a product from the cart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return cartRequest(cmd.Context(), http.MethodDelete, fmt.Sprintf("/cart/items/%d", id), nil)
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty the cart",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cartRequest(cmd.Context(), http.MethodPost, "/cart/clear", nil)
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Reload the cart from its source",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cartRequest(cmd.Context(), http.MethodPost, "/cart/refresh", nil)
	},
}

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Check whether checkout can start",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(daemonURL, requestTimeout)
		if err != nil {
			return err
		}
		if err := c.do(cmd.Context(), http.MethodGet, "/checkout/gate", nil, nil); err != nil {
			return err
		}
		printSuccess("ready for checkout")
		return nil
	},
}

var checkoutCmd = &cobra.Command{
	Use:   "checkout",
	Short: "Save the cart server-side and enter checkout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cartRequest(cmd.Context(), http.MethodPost, "/checkout/prepare", nil)
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete",
	Short: "Empty the cart after an order was placed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cartRequest(cmd.Context(), http.MethodPost, "/checkout/complete", nil)
	},
}

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and merge the guest cart into the account cart",
	Long: `Log in and merge the guest cart into the account cart.

The password is read from --password, then CARTD_PASSWORD.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password := loginPassword
		if password == "" {
			password = os.Getenv("CARTD_PASSWORD")
		}
		if password == "" {
			return fmt.Errorf("password required (--password or CARTD_PASSWORD)")
		}

		c, err := newClient(daemonURL, requestTimeout)
		if err != nil {
			return err
		}
		var resp struct {
			User model.Identity    `json:"user"`
			Cart *handler.CartView `json:"cart"`
		}
		if err := c.do(cmd.Context(), http.MethodPost, "/session/login",
			map[string]string{"email": loginEmail, "password": password}, &resp); err != nil {
			return err
		}

		printSuccess("logged in as %s (id %d)", resp.User.Email, resp.User.ID)
		printCart(resp.Cart)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Save the cart to the account and log out",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(daemonURL, requestTimeout)
		if err != nil {
			return err
		}
		if err := c.do(cmd.Context(), http.MethodPost, "/session/logout", nil, nil); err != nil {
			return err
		}
		printSuccess("logged out")
		return nil
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Show whether the backend session is still valid",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(daemonURL, requestTimeout)
		if err != nil {
			return err
		}
		var resp struct {
			Authenticated  bool            `json:"authenticated"`
			User           *model.Identity `json:"user"`
			Mode           string          `json:"mode"`
			ReauthRequired bool            `json:"reauthRequired"`
		}
		if err := c.do(cmd.Context(), http.MethodGet, "/session", nil, &resp); err != nil {
			return err
		}

		switch {
		case resp.Authenticated && resp.User != nil:
			printSuccess("logged in as %s (id %d)", resp.User.Email, resp.User.ID)
		case resp.ReauthRequired:
			printWarning("session expired; log in again to keep the account cart")
		default:
			printInfo("guest")
		}
		printInfo("cart mode: %s", resp.Mode)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the cart every time it changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		c, err := newClient(daemonURL, requestTimeout)
		if err != nil {
			return err
		}
		body, err := c.stream(ctx)
		if err != nil {
			return err
		}
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var view handler.CartView
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &view); err != nil {
				printWarning("skipping malformed event: %v", err)
				continue
			}
			printInfo("%s", time.Now().Format(time.TimeOnly))
			printCart(&view)
		}
		if ctx.Err() != nil {
			return nil
		}
		return scanner.Err()
	},
}

func init() {
	addCmd.Flags().IntVar(&addQty, "qty", 1, "units to add")

	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "account password")
	loginCmd.MarkFlagRequired("email")
}

// cartRequest sends a request whose response is a cart view and prints it.
func cartRequest(ctx context.Context, method, path string, body any) error {
	c, err := newClient(daemonURL, requestTimeout)
	if err != nil {
		return err
	}
	var view handler.CartView
	if err := c.do(ctx, method, path, body, &view); err != nil {
		return err
	}
	printCart(&view)
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid product id %q", s)
	}
	return id, nil
}
