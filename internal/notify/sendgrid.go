package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const sendGridEndpoint = "/v3/mail/send"

// SendGrid delivers messages as email through the SendGrid v3 API.
type SendGrid struct {
	apiKey string
	host   string
	from   *mail.Email
}

var _ Notifier = (*SendGrid)(nil)

// NewSendGrid creates a SendGrid notifier sending from fromName <fromAddress>.
func NewSendGrid(apiKey, fromName, fromAddress string) *SendGrid {
	return &SendGrid{
		apiKey: apiKey,
		from:   mail.NewEmail(fromName, fromAddress),
	}
}

// newSendGridWithHost points the client at another API host.
func newSendGridWithHost(apiKey, fromName, fromAddress, host string) *SendGrid {
	s := NewSendGrid(apiKey, fromName, fromAddress)
	s.host = host
	return s
}

// Notify sends one email. A client is built per call because the SendGrid
// client stores the request body on itself and workers send concurrently.
func (s *SendGrid) Notify(ctx context.Context, msg Message) error {
	email := mail.NewSingleEmail(s.from, msg.Subject, mail.NewEmail(msg.Name, msg.To), msg.PlainText, msg.HTML)

	resp, err := s.client().SendWithContext(ctx, email)
	if err != nil {
		return fmt.Errorf("notify: sending email to %s: %w", msg.To, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: sendgrid returned status %d for %s", resp.StatusCode, msg.To)
	}
	return nil
}

func (s *SendGrid) client() *sendgrid.Client {
	if s.host == "" {
		return sendgrid.NewSendClient(s.apiKey)
	}
	req := sendgrid.GetRequest(s.apiKey, sendGridEndpoint, s.host)
	req.Method = rest.Post
	return &sendgrid.Client{Request: req}
}
