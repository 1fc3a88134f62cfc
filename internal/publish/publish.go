// Package publish posts enriched open calls to the catalogue API.
package publish

import (
	"context"
	"fmt"
	"time"

	"opencalls/internal/enrich"
	"opencalls/internal/record"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Payload is the JSON body of one POST.
type Payload struct {
	CityCountry         string `json:"city_country"`
	OpenCallTitle       string `json:"open_call_title"`
	DeadlineDate        string `json:"deadline_date"`
	EventDate           string `json:"event_date"`
	ApplicationFromLink string `json:"application_from_link"`
	SelectionCriteria   string `json:"selection_criteria"`
	FAQ                 string `json:"faq"`
	Fee                 string `json:"fee"`
	ApplicationGuide    string `json:"application_guide"`
	OpenCallDescription string `json:"open_call_description"`
}

// PayloadFor maps an enriched record onto the API body.
func PayloadFor(r record.Record) Payload {
	return Payload{
		CityCountry:         r[enrich.CityCountry],
		OpenCallTitle:       r[enrich.OpenCallTitle],
		DeadlineDate:        r[enrich.DeadlineDate],
		EventDate:           r[enrich.EventDate],
		ApplicationFromLink: r[enrich.ApplicationFormLink],
		SelectionCriteria:   r[enrich.SelectionCriteria],
		FAQ:                 r[enrich.FAQ],
		Fee:                 r[enrich.Fee],
		ApplicationGuide:    r[enrich.ApplicationGuide],
		OpenCallDescription: fmt.Sprintf("Open call in %s titled %s.", r[enrich.CityCountry], r[enrich.OpenCallTitle]),
	}
}

type Client struct {
	http   *resty.Client
	url    string
	logger *zap.Logger
}

// New returns a client posting to url. token is sent verbatim as the
// Authorization header.
func New(url, token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetHeader("Authorization", token)
	}
	return &Client{http: client, url: url, logger: logger}
}

// Send posts one record. A non-2xx response is an error.
func (c *Client) Send(ctx context.Context, r record.Record) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(PayloadFor(r)).
		Post(c.url)
	if err != nil {
		return fmt.Errorf("post open call: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("post open call: status %d", resp.StatusCode())
	}
	return nil
}

// SendAll posts every record, logging failures and carrying on. It returns
// the number of records accepted and rejected.
func (c *Client) SendAll(ctx context.Context, set *record.Set) (sent, failed int) {
	if set == nil {
		return 0, 0
	}
	for _, r := range set.Records {
		if ctx.Err() != nil {
			failed++
			continue
		}
		title := r[enrich.OpenCallTitle]
		if err := c.Send(ctx, r); err != nil {
			failed++
			c.logger.Error("publishing open call failed", zap.String("title", title), zap.Error(err))
			continue
		}
		sent++
		c.logger.Info("open call published", zap.String("title", title))
	}
	return sent, failed
}
