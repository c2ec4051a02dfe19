package invoke

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/wasilibs/go-re2"
)

// Render modes for HTTP response bodies.
const (
	RenderRaw      = "raw"
	RenderText     = "text"
	RenderMarkdown = "markdown"
)

var (
	reSpace    = re2.MustCompile(`[ \t]+`)
	reNewlines = re2.MustCompile(`\n{3,}`)
)

// HTTP performs one request per invocation.
type HTTP struct {
	Client    *http.Client
	URL       string
	Method    string
	Headers   map[string]string
	Body      string
	Render    string
	MaxBody   int64
	UserAgent string
}

// NewHTTP builds an HTTP invoker with its own client.
func NewHTTP(url, method string, headers map[string]string, body, render string, timeout time.Duration, maxBody int64, userAgent string) (*HTTP, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("http: url must start with http:// or https://")
	}
	if method == "" {
		method = http.MethodGet
	}
	switch render {
	case "":
		render = RenderRaw
	case RenderRaw, RenderText, RenderMarkdown:
	default:
		return nil, fmt.Errorf("http: unknown render mode %q", render)
	}
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	return &HTTP{
		Client:    &http.Client{Timeout: timeout},
		URL:       url,
		Method:    strings.ToUpper(method),
		Headers:   headers,
		Body:      body,
		Render:    render,
		MaxBody:   maxBody,
		UserAgent: userAgent,
	}, nil
}

// Invoke sends the request. Status codes >= 400 are failures.
func (h *HTTP) Invoke(ctx context.Context) (string, error) {
	var bodyReader io.Reader
	if h.Body != "" {
		bodyReader = strings.NewReader(h.Body)
	}

	req, err := http.NewRequestWithContext(ctx, h.Method, h.URL, bodyReader)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}
	req.Header.Set("Accept", "*/*")
	if h.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, value := range h.Headers {
		req.Header.Set(name, value)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, h.MaxBody))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	content := string(data)
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		switch h.Render {
		case RenderText:
			content = htmlToText(content)
		case RenderMarkdown:
			content = htmlToMarkdown(content)
		}
	}
	content = tail(content, MaxOutput)

	if resp.StatusCode >= http.StatusBadRequest {
		return content, fmt.Errorf("%s %s: %s", h.Method, h.URL, resp.Status)
	}
	return content, nil
}

func htmlToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("script, style, noscript, nav, footer").Remove()

	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		line = strings.TrimSpace(reSpace.ReplaceAllString(line, " "))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func htmlToMarkdown(html string) string {
	converter := md.NewConverter("", true, &md.Options{
		HeadingStyle:    "atx",
		CodeBlockStyle:  "fenced",
		EmDelimiter:     "*",
		StrongDelimiter: "**",
	})
	converter.AddRules(md.Rule{
		Filter: []string{"nav", "footer", "aside", "script", "style"},
		Replacement: func(content string, selec *goquery.Selection, opt *md.Options) *string {
			empty := ""
			return &empty
		},
	})

	markdown, err := converter.ConvertString(html)
	if err != nil {
		return htmlToText(html)
	}
	return strings.TrimSpace(reNewlines.ReplaceAllString(markdown, "\n\n"))
}
