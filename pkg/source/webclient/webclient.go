// Package webclient reads the monitored conversation from a snapshot bridge: a
// browser-side relay that serves the rendered conversation pane as
//
//	{"state": "ready", "title": "<open conversation>", "html": "<pane html>"}
//
// Anything other than a ready snapshot of the configured contact is reported
// as source.ErrUnavailable so the ingestion loop retries.
package webclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"github.com/sw33tLie/chatscope/pkg/source"
	"github.com/sw33tLie/chatscope/pkg/whttp"
	"github.com/tidwall/gjson"
	"golang.org/x/net/html"
)

const (
	incomingSelector = "div.message-in"
	outgoingSelector = "div.message-out"
	metadataSelector = "div[data-pre-plain-text]"
	metadataAttr     = "data-pre-plain-text"
	bodySelector     = "div.copyable-text span.selectable-text"
	bodyFallback     = "div.copyable-text span"

	stateReady = "ready"
)

type Config struct {
	URL      string
	Contact  string
	Timeout  time.Duration // per request
	RetryMax int
	Logger   logrus.FieldLogger // retry logs at debug level; nil silences them

	// ReadyPoll is the interval between snapshots while waiting in WaitReady.
	ReadyPoll time.Duration
}

type Client struct {
	url       string
	contact   string
	readyPoll time.Duration
	http      *retryablehttp.Client
}

// element is the handle returned by the List methods.
type element struct {
	sel *goquery.Selection
}

func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("webclient: snapshot URL is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("webclient: invalid snapshot URL: %w", err)
	}
	if cfg.Contact != "" {
		q := u.Query()
		q.Set("contact", cfg.Contact)
		u.RawQuery = q.Encode()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ReadyPoll <= 0 {
		cfg.ReadyPoll = time.Second
	}
	return &Client{
		url:       u.String(),
		contact:   cfg.Contact,
		readyPoll: cfg.ReadyPoll,
		http:      whttp.NewClient(cfg.Timeout, cfg.RetryMax, cfg.Logger),
	}, nil
}

func (c *Client) Name() string { return "webclient" }

func (c *Client) ListIncoming(ctx context.Context) ([]source.Element, error) {
	return c.list(ctx, incomingSelector)
}

func (c *Client) ListOutgoing(ctx context.Context) ([]source.Element, error) {
	return c.list(ctx, outgoingSelector)
}

func (c *Client) list(ctx context.Context, selector string) ([]source.Element, error) {
	doc, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var out []source.Element
	doc.Find(selector).Each(func(i int, s *goquery.Selection) {
		out = append(out, element{sel: s})
	})
	return out, nil
}

func (c *Client) Extract(el source.Element) (source.Record, bool) {
	e, ok := el.(element)
	if !ok || e.sel == nil {
		return source.Record{}, false
	}

	meta, ok := e.sel.Find(metadataSelector).First().Attr(metadataAttr)
	if !ok || strings.TrimSpace(meta) == "" {
		return source.Record{}, false
	}

	body := e.sel.Find(bodySelector).First()
	if body.Length() == 0 {
		body = e.sel.Find(bodyFallback).First()
	}
	text := strings.TrimSpace(selectionText(body))
	if text == "" {
		return source.Record{}, false
	}

	ts, sender := source.ParseMetadata(meta)
	return source.Record{Sender: sender, Timestamp: ts, Text: text, Meta: meta}, true
}

// WaitReady blocks until the contact's conversation is open (bounded by
// loginWait) and then until at least one message is rendered (bounded by
// firstMessageWait).
func (c *Client) WaitReady(ctx context.Context, loginWait, firstMessageWait time.Duration) error {
	var doc *goquery.Document
	err := c.poll(ctx, loginWait, func() (bool, error) {
		d, err := c.snapshot(ctx)
		if err != nil {
			if source.IsUnavailable(err) {
				return false, nil
			}
			return false, err
		}
		doc = d
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("waiting for conversation %q: %w", c.contact, err)
	}

	if hasMessages(doc) {
		return nil
	}
	err = c.poll(ctx, firstMessageWait, func() (bool, error) {
		d, err := c.snapshot(ctx)
		if err != nil {
			if source.IsUnavailable(err) {
				return false, nil
			}
			return false, err
		}
		return hasMessages(d), nil
	})
	if err != nil {
		return fmt.Errorf("waiting for first message in %q: %w", c.contact, err)
	}
	return nil
}

func (c *Client) poll(ctx context.Context, timeout time.Duration, check func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		done, err := check()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.readyPoll):
		}
	}
}

func (c *Client) snapshot(ctx context.Context) (*goquery.Document, error) {
	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{Method: http.MethodGet, URL: c.url}, c.http)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("fetching snapshot: %v: %w", err, source.ErrUnavailable)
	}

	switch {
	case res.StatusCode == http.StatusOK:
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		return nil, fmt.Errorf("snapshot bridge returned status %d: %w", res.StatusCode, source.ErrUnavailable)
	default:
		return nil, fmt.Errorf("snapshot bridge returned status %d", res.StatusCode)
	}

	if !gjson.Valid(res.BodyString) {
		return nil, fmt.Errorf("malformed snapshot: %w", source.ErrUnavailable)
	}
	snap := gjson.GetMany(res.BodyString, "state", "title", "html")
	if state := snap[0].String(); state != stateReady {
		return nil, fmt.Errorf("snapshot state %q: %w", state, source.ErrUnavailable)
	}
	if c.contact != "" && snap[1].String() != c.contact {
		return nil, fmt.Errorf("open conversation is %q, not %q: %w", snap[1].String(), c.contact, source.ErrUnavailable)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snap[2].String()))
	if err != nil {
		return nil, fmt.Errorf("parsing snapshot html: %v: %w", err, source.ErrUnavailable)
	}
	return doc, nil
}

func hasMessages(doc *goquery.Document) bool {
	return doc.Find(incomingSelector+", "+outgoingSelector).Length() > 0
}

// selectionText is Selection.Text that keeps the alt text of emoji images and
// turns <br> into newlines.
func selectionText(s *goquery.Selection) string {
	var b strings.Builder
	for _, n := range s.Nodes {
		writeNodeText(&b, n)
	}
	return b.String()
}

func writeNodeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
	case html.ElementNode:
		switch n.Data {
		case "img":
			for _, a := range n.Attr {
				if a.Key == "alt" {
					b.WriteString(a.Val)
				}
			}
		case "br":
			b.WriteString("\n")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeNodeText(b, c)
	}
}
