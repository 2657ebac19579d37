package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
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
	"github.com/socialpulse/ig-insights/internal/notifications"
	"github.com/socialpulse/ig-insights/internal/trends"
)

// TerminalNotificationService outputs digests to the terminal and files
type TerminalNotificationService struct {
	outputDir string
}

var _ notifications.NotificationInterface = (*TerminalNotificationService)(nil)

func (t *TerminalNotificationService) SendDigest(digest *models.Digest) error {
	fmt.Println("\n" + strings.Repeat("=", 70))
	fmt.Println("📊 INSTAGRAM INSIGHTS DIGEST")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("📅 Period: last %s (%s)\n", digest.Period, digest.Schedule)
	fmt.Printf("🕒 Generated: %s\n", digest.GeneratedAt.Format("2006-01-02 15:04:05 UTC"))
	fmt.Printf("👤 Account: %s\n", digest.AccountID)

	fmt.Println("\n📈 Trends:")
	for _, trend := range digest.Trends {
		arrow := "➡️"
		switch {
		case trend.GrowthRate > 0:
			arrow = "⬆️"
		case trend.GrowthRate < 0:
			arrow = "⬇️"
		}
		fmt.Printf("   %s %-24s %10.2f (previous %.2f, %+.2f%%)\n",
			arrow, trend.Metric+":", trend.CurrentValue, trend.PreviousValue, trend.GrowthRate)
	}

	fmt.Println("\n🏆 Top Posts:")
	if len(digest.TopPosts) == 0 {
		fmt.Println("   No posts in this period")
	}
	for i, post := range digest.TopPosts {
		caption := post.Caption
		if caption == "" {
			caption = "(no caption)"
		}
		fmt.Printf("\n   %d. %s\n", i+1, caption)
		fmt.Printf("      🔗 URL: %s\n", post.Permalink)
		fmt.Printf("      ❤️  Likes: %d | 💬 Comments: %d | ⭐ Engagement: %d\n",
			post.LikeCount, post.CommentsCount, post.EngagementScore())
		if !post.Timestamp.IsZero() {
			fmt.Printf("      🕒 Posted: %s\n", post.Timestamp.Format("2006-01-02 15:04"))
		}
	}

	// Save to JSON file
	if err := t.saveDigestToFile(digest); err != nil {
		fmt.Printf("\n⚠️  Warning: Could not save to file: %v\n", err)
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	return nil
}

func (t *TerminalNotificationService) SendAlert(alert *models.Alert) error {
	fmt.Println("\n🚨 ALERT")
	fmt.Printf("Type: %s\n", alert.Type)
	fmt.Printf("Message: %s\n", alert.Message)
	return nil
}

func (t *TerminalNotificationService) saveDigestToFile(digest *models.Digest) error {
	if err := os.MkdirAll(t.outputDir, 0755); err != nil {
		return err
	}

	timestamp := digest.GeneratedAt.Format("2006-01-02_15-04-05")
	filename := filepath.Join(t.outputDir, fmt.Sprintf("insights_digest_%s.json", timestamp))

	data, err := json.MarshalIndent(digest, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return err
	}

	fmt.Printf("\n💾 Digest saved to: %s\n", filename)
	return nil
}

func main() {
	send := flag.Bool("send", false, "also deliver the digest through the configured Teams/email channels")
	period := flag.String("period", "", "override DIGEST_PERIOD, e.g. 7d")
	outputDir := flag.String("out", "test_output", "directory for the JSON copy of the digest")
	flag.Parse()

	fmt.Println("🤖 Instagram Insights - Digest Preview")
	fmt.Println("======================================")

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *period != "" {
		cfg.DigestPeriod = *period
	}
	logrus.SetLevel(logrus.WarnLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	limiter := graph.NewLimiter(cfg.GraphRateLimit, cfg.GraphRateBurst, cfg.GraphRateMaxWait)
	opts := credentials.Options{Margin: cfg.TokenRefreshMargin, Lifetime: cfg.TokenLifetime}
	if cfg.CanRefresh() {
		refresher := credentials.NewGraphRefresher(cfg.GraphURL(), cfg.AppID, cfg.AppSecret, cfg.TokenLifetime).
			WithLimiter(limiter)
		opts.Refresher = refresher
		opts.Inspector = refresher
	}
	manager := credentials.NewManager(models.Credential{}, opts)
	manager.Bootstrap(ctx, cfg.AccessToken, cfg.AccessTokenExpires)

	graphOpts := graph.OptionsFromConfig(cfg)
	graphOpts.Limiter = limiter
	client := graph.NewClient(graphOpts, manager)
	if cfg.InstagramAccountID == "" {
		accountID, err := insights.ResolveAccountID(ctx, client, cfg.PageID)
		if err != nil {
			log.Fatalf("Failed to resolve Instagram account: %v", err)
		}
		cfg.InstagramAccountID = accountID
	}

	// no store: previews are not part of the digest history
	service := insights.NewService(client,
		normalize.New(normalize.Options{CaptionMaxLength: cfg.CaptionMaxLength}),
		trends.DefaultRegistry(),
		insights.OptionsFromConfig(cfg, nil))

	fmt.Printf("\n📊 Building digest for the last %s...\n", cfg.DigestPeriod)
	digest, err := service.Digest(ctx)
	if err != nil {
		fmt.Printf("❌ Error building digest: %v\n", err)
		os.Exit(1)
	}

	terminal := &TerminalNotificationService{outputDir: *outputDir}
	if err := terminal.SendDigest(digest); err != nil {
		fmt.Printf("❌ Error printing digest: %v\n", err)
		os.Exit(1)
	}

	if *send {
		if !cfg.NotificationsEnabled() {
			fmt.Println("⚠️  No notification channel configured, nothing sent")
		} else if err := notifications.NewService(cfg).SendDigest(digest); err != nil {
			fmt.Printf("❌ Error sending digest: %v\n", err)
			os.Exit(1)
		} else {
			fmt.Println("📨 Digest delivered to configured channels")
		}
	}

	fmt.Println("\n✅ Digest preview completed!")
}
