package whttp

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

type WHTTPHeader struct {
	Name  string
	Value string
}

type WHTTPReq struct {
	URL     string
	Method  string
	Headers []WHTTPHeader
}

type WHTTPRes struct {
	StatusCode int
	BodyString string
}

// debugLogger routes retryablehttp's per-request chatter to debug level. The
// client logs every attempt, which at a 2s poll would flood info output.
type debugLogger struct {
	log logrus.FieldLogger
}

func (l debugLogger) entry(keysAndValues []interface{}) *logrus.Entry {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if k, ok := keysAndValues[i].(string); ok {
			fields[k] = keysAndValues[i+1]
		}
	}
	return l.log.WithFields(fields)
}

func (l debugLogger) Error(msg string, kv ...interface{}) { l.entry(kv).Debug(msg) }
func (l debugLogger) Info(msg string, kv ...interface{})  { l.entry(kv).Debug(msg) }
func (l debugLogger) Debug(msg string, kv ...interface{}) { l.entry(kv).Debug(msg) }
func (l debugLogger) Warn(msg string, kv ...interface{})  { l.entry(kv).Debug(msg) }

// NewClient returns a retrying client whose every attempt is bounded by timeout.
// Retry logs go to logger at debug level; a nil logger silences them.
func NewClient(timeout time.Duration, retryMax int, logger logrus.FieldLogger) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = retryMax
	c.RetryWaitMin = 250 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = timeout
	c.Logger = nil
	if logger != nil {
		c.Logger = retryablehttp.LeveledLogger(debugLogger{log: logger})
	}
	return c
}

func SendHTTPRequest(ctx context.Context, wReq *WHTTPReq, client *retryablehttp.Client) (*WHTTPRes, error) {
	if client == nil {
		client = retryablehttp.NewClient()
		client.Logger = nil
	}
	method := wReq.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, wReq.URL, nil)
	if err != nil {
		return nil, err
	}

	// Set common headers
	req.Header.Set("User-Agent", "chatscope/1.0")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept", "application/json")

	for _, h := range wReq.Headers {
		req.Header.Set(h.Name, h.Value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &WHTTPRes{StatusCode: resp.StatusCode, BodyString: string(bodyBytes)}, nil
}
