// Package enrich asks an OpenAI-compatible chat completion endpoint to turn a
// scraped row into the fixed set of fields the publishing API expects.
package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"opencalls/internal/record"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrorValue stands in for any answer that could not be obtained.
const ErrorValue = "Error"

// Output columns, in order.
const (
	CityCountry         = "City_Country"
	OpenCallTitle       = "Open_Call_Title"
	DeadlineDate        = "Deadline_Date"
	EventDate           = "Event_Date"
	ApplicationFormLink = "Application_Form_Link"
	SelectionCriteria   = "Selection_Criteria"
	FAQ                 = "FAQ"
	Fee                 = "Fee"
	ApplicationGuide    = "Application_Guide"
)

type question struct {
	field string
	ask   string
}

var questions = []question{
	{CityCountry, "Return, in English, ONLY the country, if it is stated."},
	{OpenCallTitle, "Return, in English, ONLY the title of the open call."},
	{DeadlineDate, "Return, in English, ONLY the deadline date in YYYY-MM-DD format."},
	{EventDate, "Return, in English, ONLY the date of the event."},
	{ApplicationFormLink, "Return, in English, ONLY the link to the application form."},
	{SelectionCriteria, "Return, in English, ONLY the selection criteria."},
	{Fee, "Return, in English, ONLY the participation fee."},
	{FAQ, "Write an FAQ for the open call."},
	{ApplicationGuide, "Write a detailed step-by-step plan for applying."},
}

// Fields returns the output columns in order.
func Fields() []string {
	return []string{
		CityCountry, OpenCallTitle, DeadlineDate, EventDate, ApplicationFormLink,
		SelectionCriteria, FAQ, Fee, ApplicationGuide,
	}
}

const systemPrompt = "You are a helpful assistant."

type Options struct {
	BaseURL     string
	Model       string
	APIKey      string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

type Client struct {
	http   *resty.Client
	opts   Options
	logger *zap.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func New(opts Options, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json")
	if opts.APIKey != "" {
		client.SetAuthToken(opts.APIKey)
	}
	return &Client{http: client, opts: opts, logger: logger}
}

// Prompt builds the user message for one question.
func Prompt(question, prefix string) string {
	return fmt.Sprintf("%s\n\nQuestion: %s\nAnswer:", prefix, question)
}

// Ask sends one prompt and returns the trimmed answer, or ErrorValue.
func (c *Client) Ask(ctx context.Context, prompt string) string {
	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model: c.opts.Model,
			Messages: []chatMessage{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: prompt},
			},
			MaxTokens:   c.opts.MaxTokens,
			Temperature: c.opts.Temperature,
		}).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		c.logger.Error("chat completion failed", zap.Error(err))
		return ErrorValue
	}
	if resp.IsError() {
		c.logger.Error("chat completion failed", zap.Int("status", resp.StatusCode()), zap.ByteString("body", resp.Body()))
		return ErrorValue
	}
	if len(out.Choices) == 0 {
		c.logger.Error("chat completion returned no choices")
		return ErrorValue
	}
	return strings.TrimSpace(out.Choices[0].Message.Content)
}

// RowText renders a row as "col: value" pairs joined by spaces.
func RowText(columns, row []string) string {
	parts := make([]string, 0, len(columns))
	for i, col := range columns {
		v := ""
		if i < len(row) {
			v = row[i]
		}
		parts = append(parts, col+": "+v)
	}
	return strings.Join(parts, " ")
}

// Row asks every question about one row.
func (c *Client) Row(ctx context.Context, columns, row []string) record.Record {
	data := RowText(columns, row)
	out := make(record.Record, len(questions))
	for _, q := range questions {
		if ctx.Err() != nil {
			out[q.field] = ErrorValue
			continue
		}
		out[q.field] = c.Ask(ctx, Prompt(q.ask+" Data: "+data, ""))
	}
	return out
}

// Set enriches every record of in. onRow, if set, is called after each row.
func (c *Client) Set(ctx context.Context, in *record.Set, onRow func(i int, r record.Record)) (*record.Set, error) {
	out := record.NewSet(in.Source+"_enriched", Fields())
	for i, row := range in.Rows() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		r := c.Row(ctx, in.Columns, row)
		out.Append(r)
		c.logger.Info("row enriched", zap.Int("row", i+1), zap.Int("rows", in.Len()), zap.String("title", r[OpenCallTitle]))
		if onRow != nil {
			onRow(i, r)
		}
	}
	return out, nil
}
