package notify

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Formatter 生成发给用户的通知文本。
type Formatter struct {
	previewLimit int
}

// NewFormatter 创建格式化器，previewLimit 是正文预览的字符上限。
func NewFormatter(previewLimit int) *Formatter {
	if previewLimit <= 0 {
		previewLimit = 200
	}
	return &Formatter{previewLimit: previewLimit}
}

// Format 组装一条新邮件通知。
func (f *Formatter) Format(sender, subject, textBody, htmlBody string) string {
	if sender == "" {
		sender = "Unknown"
	}
	if subject == "" {
		subject = "No Subject"
	}
	body := textBody
	if body == "" {
		body = htmlBody
	}

	return fmt.Sprintf(
		"📩 New Mail Received In Your Email ID 🪧\n\n📇 From : %s\n\n🗒️ Subject : %s\n\n💬 Text : %s",
		sender, subject, f.Preview(body),
	)
}

// Preview 把正文压成一段纯文本预览：去 HTML 标签、合并空白、按字符截断。
func (f *Formatter) Preview(body string) string {
	clean := htmlTagPattern.ReplaceAllString(body, "")
	clean = whitespacePattern.ReplaceAllString(clean, " ")
	clean = strings.TrimSpace(clean)
	if clean == "" {
		return "No content"
	}

	runes := []rune(clean)
	if len(runes) <= f.previewLimit {
		return clean
	}
	return string(runes[:f.previewLimit]) + "..."
}
