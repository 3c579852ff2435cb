package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/qqrelay/internal/config"
	"github.com/nextlevelbuilder/qqrelay/internal/qqbot"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and reachability of the bot API",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("qqrelay doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Bot:")
	checkValue("App ID", cfg.Bot.AppID)
	checkValue("Secret", maskForDisplay(cfg.Bot.ClientSecret))
	checkValue("API", cfg.Bot.APIBase)

	fmt.Println()
	fmt.Println("  Relay:")
	checkValue("Store", cfg.Store.Driver)
	checkValue("Host", cfg.Host.OneBot.URL)
	checkValue("Wake", fmt.Sprintf("%v", cfg.Wake.Enabled))
	checkValue("Listen", cfg.Server.Listen)

	if cfg.Bot.AppID == "" || cfg.Bot.ClientSecret == "" {
		fmt.Println()
		fmt.Println("Bot credentials missing; skipping connectivity checks.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	fmt.Println()
	fmt.Println("  Connectivity:")
	tokens := qqbot.NewTokenManager(cfg.Bot.AppID, cfg.Bot.ClientSecret, cfg.Bot.AuthURL, nil)
	defer tokens.Stop()
	tok, err := tokens.GetToken(ctx)
	if err != nil {
		fmt.Printf("    %-12s FAILED (%s)\n", "Token:", err)
		return
	}
	fmt.Printf("    %-12s OK (expires %s)\n", "Token:", tok.ExpiresAt.Format(time.RFC3339))

	api := qqbot.NewAPIClient(cfg.Bot.APIBase, cfg.Bot.AppID, tokens, 0)
	url, err := api.GatewayURL(ctx)
	if err != nil {
		fmt.Printf("    %-12s FAILED (%s)\n", "Gateway:", err)
		return
	}
	fmt.Printf("    %-12s %s\n", "Gateway:", url)

	if s, err := openBindingStore(ctx, cfg.Store); err != nil {
		fmt.Printf("    %-12s FAILED (%s)\n", "Store:", err)
	} else {
		list, err := s.List(ctx)
		s.Close()
		if err != nil {
			fmt.Printf("    %-12s FAILED (%s)\n", "Store:", err)
		} else {
			fmt.Printf("    %-12s OK (%d bindings)\n", "Store:", len(list))
		}
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkValue(name, value string) {
	if value == "" {
		value = "(not configured)"
	}
	fmt.Printf("    %-12s %s\n", name+":", value)
}

func maskForDisplay(s string) string {
	if len(s) <= 8 {
		if s == "" {
			return ""
		}
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
