package gmail

import (
	"encoding/base64"
	"mime"
	"strings"

	"github.com/tombee/areahub/internal/platform"
)

// draft is an outbound RFC 5322 message.
type draft struct {
	To        string
	Subject   string
	Body      string
	InReplyTo string
}

// raw renders the message as the base64url "raw" field the Gmail API takes.
// Every message carries the generated header so the poller can recognize it.
func (d draft) raw() (string, error) {
	headers := [][2]string{
		{"To", d.To},
		{"Subject", mime.QEncoding.Encode("utf-8", d.Subject)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/html; charset=UTF-8"},
		{generatedHeader, "true"},
	}
	if d.InReplyTo != "" {
		headers = append(headers,
			[2]string{"In-Reply-To", d.InReplyTo},
			[2]string{"References", d.InReplyTo},
		)
	}

	var b strings.Builder
	for _, h := range headers {
		if strings.ContainsAny(h[1], "\r\n") {
			return "", &platform.Error{
				Kind:    platform.KindInvalidParameter,
				Field:   strings.ToLower(h[0]),
				Message: "header value must not contain line breaks",
			}
		}
		b.WriteString(h[0])
		b.WriteString(": ")
		b.WriteString(h[1])
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(d.Body)

	return base64.RawURLEncoding.EncodeToString([]byte(b.String())), nil
}
