package notifications

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"github.com/socialpulse/ig-insights/internal/config"
	"github.com/socialpulse/ig-insights/internal/models"
)

// Service handles sending notifications via various channels
type Service struct {
	config *config.Config
	client *resty.Client
	mailer mailSender
}

// Ensure Service implements NotificationInterface
var _ NotificationInterface = (*Service)(nil)

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// TeamsMessage represents a Microsoft Teams message
type TeamsMessage struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor,omitempty"`
	Title      string         `json:"title"`
	Text       string         `json:"text"`
	Sections   []TeamsSection `json:"sections,omitempty"`
}

type TeamsSection struct {
	ActivityTitle    string      `json:"activityTitle,omitempty"`
	ActivitySubtitle string      `json:"activitySubtitle,omitempty"`
	ActivityText     string      `json:"activityText,omitempty"`
	Facts            []TeamsFact `json:"facts,omitempty"`
	Markdown         bool        `json:"markdown,omitempty"`
}

type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NewService creates a new notification service
func NewService(cfg *config.Config) *Service {
	return &Service{
		config: cfg,
		client: resty.New().SetTimeout(30 * time.Second),
		mailer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword),
	}
}

// SendDigest sends an insights digest via configured notification channels
func (s *Service) SendDigest(digest *models.Digest) error {
	subject := fmt.Sprintf("Instagram Insights Digest - %s (last %s)", capitalize(digest.Schedule), digest.Period)

	htmlBody, err := buildDigestHTML(digest)
	if err != nil {
		return fmt.Errorf("failed to build digest HTML: %w", err)
	}

	return s.send("digest", buildDigestTeamsMessage(digest), subject, buildDigestText(digest), htmlBody)
}

// SendAlert sends an operational alert, e.g. a failed credential refresh
func (s *Service) SendAlert(alert *models.Alert) error {
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(alert.Type), alert.Title)
	text := fmt.Sprintf("%s\n\n%s\n\nRaised: %s\n", alert.Title, alert.Message, alert.CreatedAt.Format("2006-01-02 15:04:05 UTC"))

	return s.send("alert", buildAlertTeamsMessage(alert), subject, text, "")
}

func (s *Service) send(kind string, teams *TeamsMessage, subject, textBody, htmlBody string) error {
	var errors []string

	// Send to Teams if configured
	if s.config.TeamsWebhookURL != "" {
		if err := s.sendToTeams(teams); err != nil {
			logrus.Errorf("Failed to send Teams %s: %v", kind, err)
			errors = append(errors, fmt.Sprintf("Teams: %v", err))
		} else {
			logrus.Infof("Successfully sent %s to Teams", kind)
		}
	}

	// Send via email if configured
	if s.config.NotificationEmail != "" {
		if err := s.sendEmail(subject, textBody, htmlBody); err != nil {
			logrus.Errorf("Failed to send %s email: %v", kind, err)
			errors = append(errors, fmt.Sprintf("Email: %v", err))
		} else {
			logrus.Infof("Successfully sent %s via email", kind)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

func (s *Service) sendToTeams(message *TeamsMessage) error {
	resp, err := s.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(message).
		Post(s.config.TeamsWebhookURL)

	if err != nil {
		return fmt.Errorf("failed to send Teams message: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("Teams webhook returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	return nil
}

func (s *Service) sendEmail(subject, textBody, htmlBody string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.config.SMTPUsername)
	m.SetHeader("To", s.config.NotificationEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", textBody)
	if htmlBody != "" {
		m.AddAlternative("text/html", htmlBody)
	}

	if err := s.mailer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

func buildDigestTeamsMessage(digest *models.Digest) *TeamsMessage {
	message := &TeamsMessage{
		Type:    "MessageCard",
		Context: "https://schema.org/extensions",
		Title:   fmt.Sprintf("Instagram Insights Digest - %s", capitalize(digest.Schedule)),
		Text:    fmt.Sprintf("Account %s, last %s compared with the period before", digest.AccountID, digest.Period),
	}

	facts := []TeamsFact{
		{Name: "Generated", Value: digest.GeneratedAt.Format("2006-01-02 15:04:05 UTC")},
	}
	for _, trend := range digest.Trends {
		facts = append(facts, TeamsFact{
			Name:  trend.Metric,
			Value: formatTrend(trend),
		})
	}
	message.Sections = append(message.Sections, TeamsSection{
		ActivityTitle: "Trends",
		Facts:         facts,
		Markdown:      true,
	})

	if len(digest.TopPosts) > 0 {
		var lines []string
		for i, post := range digest.TopPosts {
			lines = append(lines, fmt.Sprintf("%d. **[%s](%s)** - %d likes, %d comments",
				i+1, postTitle(post), post.Permalink, post.LikeCount, post.CommentsCount))
		}
		message.Sections = append(message.Sections, TeamsSection{
			ActivityTitle: "Top Posts",
			ActivityText:  strings.Join(lines, "\n\n"),
			Markdown:      true,
		})
	}

	return message
}

func buildAlertTeamsMessage(alert *models.Alert) *TeamsMessage {
	color := "0078D4"
	switch alert.Type {
	case "critical":
		color = "D13438"
	case "warning":
		color = "FFB900"
	}

	return &TeamsMessage{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		ThemeColor: color,
		Title:      alert.Title,
		Text:       alert.Message,
		Sections: []TeamsSection{{
			Facts: []TeamsFact{
				{Name: "Severity", Value: alert.Type},
				{Name: "Raised", Value: alert.CreatedAt.Format("2006-01-02 15:04:05 UTC")},
			},
		}},
	}
}

const digestTemplate = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Instagram Insights Digest</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .header { background-color: #c13584; color: white; padding: 20px; border-radius: 5px; }
        .summary { background-color: #f5f5f5; padding: 15px; margin: 20px 0; border-radius: 5px; }
        .post { border-left: 4px solid #c13584; padding: 10px; margin: 10px 0; background-color: #fafafa; }
        .post-meta { color: #666; font-size: 0.9em; }
        .up { color: #107c10; }
        .down { color: #d13438; }
    </style>
</head>
<body>
    <div class="header">
        <h1>Instagram Insights Digest</h1>
        <p>Last {{.Period}} for account {{.AccountID}}, generated on {{.GeneratedAt.Format "January 2, 2006 at 3:04 PM UTC"}}</p>
    </div>

    <div class="summary">
        <h2>Trends</h2>
        {{range .Trends}}
            <p><strong>{{.Metric}}:</strong> {{printf "%.2f" .CurrentValue}} (previous {{printf "%.2f" .PreviousValue}})
            <span class="{{if lt .GrowthRate 0.0}}down{{else}}up{{end}}">{{printf "%+.2f" .GrowthRate}}%</span></p>
        {{end}}
    </div>

    {{if .TopPosts}}
    <h2>Top Posts</h2>
    {{range .TopPosts}}
        <div class="post">
            <a href="{{.Permalink}}" target="_blank">{{.Caption | truncate 120}}</a>
            <div class="post-meta">{{.LikeCount}} likes | {{.CommentsCount}} comments | {{.Timestamp.Format "Jan 2, 2006"}}</div>
        </div>
    {{end}}
    {{end}}

    <hr>
    <p><small>This digest was generated automatically by the Instagram Insights service.</small></p>
</body>
</html>
`

func buildDigestHTML(digest *models.Digest) (string, error) {
	t, err := template.New("digest").Funcs(template.FuncMap{
		"truncate": func(length int, s string) string {
			return truncate(s, length)
		},
	}).Parse(digestTemplate)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, digest); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func buildDigestText(digest *models.Digest) string {
	var text strings.Builder

	fmt.Fprintf(&text, "Instagram Insights Digest - %s\n", capitalize(digest.Schedule))
	fmt.Fprintf(&text, "Account: %s | Period: last %s\n", digest.AccountID, digest.Period)
	fmt.Fprintf(&text, "Generated: %s\n\n", digest.GeneratedAt.Format("2006-01-02 15:04:05 UTC"))

	text.WriteString("TRENDS\n")
	text.WriteString("======\n")
	for _, trend := range digest.Trends {
		fmt.Fprintf(&text, "%s: %s\n", trend.Metric, formatTrend(trend))
	}

	if len(digest.TopPosts) > 0 {
		text.WriteString("\nTOP POSTS\n")
		text.WriteString("=========\n")
		for i, post := range digest.TopPosts {
			fmt.Fprintf(&text, "\n%d. %s\n", i+1, postTitle(post))
			fmt.Fprintf(&text, "   Likes: %d | Comments: %d | Engagement: %d\n",
				post.LikeCount, post.CommentsCount, post.EngagementScore())
			fmt.Fprintf(&text, "   URL: %s\n", post.Permalink)
		}
	}

	text.WriteString("\n---\nThis digest was generated automatically by the Instagram Insights service.\n")

	return text.String()
}

func formatTrend(trend models.TrendResult) string {
	return fmt.Sprintf("%.2f (previous %.2f, %+.2f%%)", trend.CurrentValue, trend.PreviousValue, trend.GrowthRate)
}

func postTitle(post models.PostRecord) string {
	if post.Caption == "" {
		return "Post " + post.ID
	}
	return truncate(post.Caption, 80)
}

func truncate(s string, length int) string {
	r := []rune(s)
	if len(r) <= length {
		return s
	}
	return string(r[:length]) + "..."
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
