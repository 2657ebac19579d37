package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/socialpulse/ig-insights/internal/config"
	"github.com/socialpulse/ig-insights/internal/credentials"
	"github.com/socialpulse/ig-insights/internal/graph"
	"github.com/socialpulse/ig-insights/internal/insights"
	"github.com/socialpulse/ig-insights/internal/models"
	"github.com/socialpulse/ig-insights/internal/normalize"
	"github.com/socialpulse/ig-insights/internal/storage"
)

func main() {
	refresh := flag.Bool("refresh", false, "exchange the configured token for a new long-lived token and persist it")
	flag.Parse()

	fmt.Println("🔍 Instagram Insights - Token Check")
	fmt.Println("===================================")

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logrus.SetLevel(logrus.WarnLevel)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if !cfg.CanRefresh() {
		fmt.Println("⚠️  APP_ID/APP_SECRET not set: token inspection and refresh are unavailable")
	}

	var refresher *credentials.GraphRefresher
	if cfg.CanRefresh() {
		refresher = credentials.NewGraphRefresher(cfg.GraphURL(), cfg.AppID, cfg.AppSecret, cfg.TokenLifetime)
		inspect(ctx, refresher, cfg.AccessToken)
	}

	opts := graph.OptionsFromConfig(cfg)
	opts.MaxRetries = 0
	client := graph.NewClient(opts, staticToken(cfg.AccessToken))

	accountID := cfg.InstagramAccountID
	if cfg.PageID != "" {
		if resolved := resolveAccount(ctx, cfg, client); accountID == "" {
			accountID = resolved
		}
	}
	if accountID != "" {
		checkInsights(ctx, cfg, client, accountID)
	}

	if *refresh {
		if refresher == nil {
			log.Fatal("Refresh requires APP_ID and APP_SECRET")
		}
		exchange(ctx, cfg, refresher)
	}

	fmt.Println("\n✅ Token check completed!")
}

func inspect(ctx context.Context, inspector credentials.Inspector, token string) {
	fmt.Println("\n🔑 Token details")
	fmt.Println(strings.Repeat("-", 40))

	info, err := inspector.Inspect(ctx, token)
	if err != nil {
		fmt.Printf("❌ ERROR: %v\n", err)
		return
	}

	status := "✅ valid"
	if !info.IsValid {
		status = "❌ invalid"
	}
	fmt.Printf("   Status:  %s\n", status)
	fmt.Printf("   App ID:  %s\n", info.AppID)
	fmt.Printf("   Type:    %s\n", info.Type)
	if !info.IssuedAt.IsZero() {
		fmt.Printf("   Issued:  %s\n", info.IssuedAt.Format(time.RFC3339))
	}
	if info.ExpiresAt.IsZero() {
		fmt.Println("   Expires: never")
	} else {
		remaining := time.Until(info.ExpiresAt).Round(time.Hour)
		fmt.Printf("   Expires: %s (in %s)\n", info.ExpiresAt.Format(time.RFC3339), remaining)
	}
	if len(info.Scopes) > 0 {
		fmt.Printf("   Scopes:  %s\n", strings.Join(info.Scopes, ", "))
	}
}

// staticToken serves the configured token without refreshing it
type staticToken string

func (s staticToken) GetValidToken(ctx context.Context) (models.Credential, error) {
	return models.Credential{Token: string(s), ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (s staticToken) ForceRefresh(ctx context.Context, rejected string) (models.Credential, error) {
	return models.Credential{}, fmt.Errorf("access token rejected")
}

func resolveAccount(ctx context.Context, cfg *config.Config, client *graph.Client) string {
	fmt.Println("\n📡 Instagram business account")
	fmt.Println(strings.Repeat("-", 40))

	accountID, err := insights.ResolveAccountID(ctx, client, cfg.PageID)
	if err != nil {
		fmt.Printf("❌ ERROR: %v\n", err)
		return ""
	}

	fmt.Printf("   Page %s -> INSTAGRAM_ACCOUNT_ID=%s\n", cfg.PageID, accountID)
	if cfg.InstagramAccountID != "" && cfg.InstagramAccountID != accountID {
		fmt.Printf("⚠️  Configured INSTAGRAM_ACCOUNT_ID %s does not match the page\n", cfg.InstagramAccountID)
	}
	return accountID
}

// checkInsights confirms the token can read account insights
func checkInsights(ctx context.Context, cfg *config.Config, client *graph.Client, accountID string) {
	fmt.Println("\n📈 Insights access")
	fmt.Println(strings.Repeat("-", 40))

	opts := insights.OptionsFromConfig(cfg, nil)
	opts.AccountID = accountID
	service := insights.NewService(client, normalize.New(normalize.Options{}), nil, opts)

	series, err := service.AccountInsights(ctx, insights.Query{
		Period:  models.PeriodDay,
		Metrics: cfg.TokenCheckMetrics,
	})
	if err != nil {
		fmt.Printf("❌ ERROR: %v\n", err)
		return
	}

	for _, s := range series {
		latest := "no values"
		if n := len(s.Values); n > 0 {
			latest = fmt.Sprintf("%.0f", s.Values[n-1].Value)
		}
		fmt.Printf("   %-16s %s\n", s.Name, latest)
	}
}

func exchange(ctx context.Context, cfg *config.Config, refresher *credentials.GraphRefresher) {
	fmt.Println("\n🔄 Refreshing token")
	fmt.Println(strings.Repeat("-", 40))

	cred, err := refresher.Exchange(ctx, cfg.AccessToken)
	if err != nil {
		log.Fatalf("Token refresh failed: %v", err)
	}

	store, err := storage.New(cfg.StorageAccount, cfg.StorageContainer, cfg.LocalStorageDir)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	// a manager seeded with the new credential persists it the same way the
	// server does after a refresh
	manager := credentials.NewManager(cred, credentials.Options{Store: store})
	if err := manager.Persist(ctx); err != nil {
		log.Fatalf("Failed to persist refreshed token: %v", err)
	}

	fmt.Printf("   New token expires %s\n", cred.ExpiresAt.Format(time.RFC3339))
	fmt.Printf("   Stored as %s\n", credentials.StoreKey)
}
