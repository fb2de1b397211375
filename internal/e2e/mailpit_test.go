//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestEmailAlertReachesMailpit runs the binary once against a local feed and
// checks the alert lands in a running Mailpit instance.
func TestEmailAlertReachesMailpit(t *testing.T) {
	if os.Getenv("DEALWATCH_E2E") == "" {
		t.Skip("set DEALWATCH_E2E=1 to enable e2e tests")
	}
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not on PATH")
	}

	repoRoot, err := findRepoRoot()
	if err != nil {
		t.Fatalf("find repo root: %v", err)
	}
	apiBase := strings.TrimRight(getenv("MAILPIT_API_BASE", "http://localhost:8025"), "/")
	smtpHost := getenv("MAILPIT_SMTP_HOST", "localhost")
	smtpPort := getenv("MAILPIT_SMTP_PORT", "1025")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	waitForMailpit(t, ctx, apiBase)

	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
		_, _ = io.WriteString(w, feedFixture)
	}))
	t.Cleanup(feed.Close)

	runID := fmt.Sprintf("%d-%d", time.Now().Unix(), rand.IntN(1_000_000))
	doc := strings.NewReplacer("__FEED_URL__", feed.URL, "__RUN_ID__", runID).Replace(documentFixture)
	docPath := filepath.Join(t.TempDir(), "dealwatch.yaml")
	if err := os.WriteFile(docPath, []byte(doc), 0o600); err != nil {
		t.Fatalf("write document: %v", err)
	}

	cmd := exec.CommandContext(ctx, "go", "run", "./cmd/dealwatch", "-config", docPath, "-run-once", "-no-idempotency")
	cmd.Dir = repoRoot
	cmd.Env = append(os.Environ(),
		"SMTP_HOST="+smtpHost,
		"SMTP_PORT="+smtpPort,
		"SMTP_TLS_MODE=disabled",
		"OTEL_ENABLED=false",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("dealwatch run failed: %v\n%s", err, out)
	}

	msg := waitForMessage(t, ctx, apiBase, runID)
	if !strings.Contains(msg.Subject, "75.0% off") {
		t.Fatalf("unexpected subject: %q", msg.Subject)
	}
	body := msg.HTML
	if strings.TrimSpace(body) == "" {
		body = msg.Text
	}
	if !strings.Contains(body, "Wool Overcoat") || !strings.Contains(body, "100.00") {
		t.Fatalf("alert body missing product details:\n%s", body)
	}
}

const feedFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Deals</title>
    <link>http://deals.example/</link>
    <description>Local feed for the mailpit e2e test.</description>
    <item>
      <title>Wool Overcoat was £400 now £100</title>
      <link>http://deals.example/wool-overcoat</link>
      <guid>wool-overcoat</guid>
      <pubDate>Sat, 09 Mar 2024 14:05:00 GMT</pubDate>
      <description><![CDATA[<p>Navy wool overcoat.</p>]]></description>
    </item>
  </channel>
</rss>`

const documentFixture = `workflow:
  name: mailpit e2e
  sources:
    - rss:
        feeds: ["__FEED_URL__"]
        retailer: Deals
  output:
    - email:
        to: dev@example.com
        from: dealwatch@example.com
        subject: "Dealwatch __RUN_ID__"
`

type mailpitList struct {
	Messages []struct {
		ID      string `json:"ID"`
		Subject string `json:"Subject"`
	} `json:"messages"`
}

type mailpitMessage struct {
	Subject string `json:"Subject"`
	HTML    string `json:"HTML"`
	Text    string `json:"Text"`
}

func waitForMailpit(t *testing.T, ctx context.Context, apiBase string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := get(ctx, apiBase+"/api/v1/messages"); err == nil {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Skipf("mailpit not reachable at %s", apiBase)
}

func waitForMessage(t *testing.T, ctx context.Context, apiBase, runID string) mailpitMessage {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		raw, err := get(ctx, apiBase+"/api/v1/messages")
		if err != nil {
			t.Fatalf("list messages: %v", err)
		}
		var list mailpitList
		_ = json.Unmarshal(raw, &list)
		for _, m := range list.Messages {
			if m.ID == "" || !strings.Contains(m.Subject, runID) {
				continue
			}
			raw, err := get(ctx, apiBase+"/api/v1/message/"+m.ID)
			if err != nil {
				t.Fatalf("get message: %v", err)
			}
			var msg mailpitMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				t.Fatalf("decode message: %v", err)
			}
			return msg
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for message with run id %q", runID)
	return mailpitMessage{}
}

func get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s: status=%d", url, resp.StatusCode)
	}
	return body, nil
}

func findRepoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("go.mod not found in parent directories")
		}
		dir = parent
	}
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
