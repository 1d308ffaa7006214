package ddapm

import (
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/go-resty/resty/v2"
)

// agentTransport owns the persistent HTTP connection to the trace agent.
// Only the client's worker goroutine touches it.
type agentTransport struct {
	http *resty.Client
}

func newAgentTransport(cfg Config) *agentTransport {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	rc := resty.New().
		SetBaseURL("http://" + net.JoinHostPort(cfg.AgentHost, strconv.Itoa(cfg.AgentPort))).
		SetTimeout(cfg.RequestTimeout).
		SetTransport(&http.Transport{
			DialContext:         dialer.DialContext,
			MaxIdleConnsPerHost: 1,
		})
	return &agentTransport{http: rc}
}

// send transmits one encoded batch. Any failure - refused connection,
// timeout, non-success status - is returned for counting; the caller drops
// the batch either way.
func (t *agentTransport) send(path, contentType string, body []byte, traces int) error {
	resp, err := t.http.R().
		SetHeader("Content-Type", contentType).
		SetHeader("X-Datadog-Trace-Count", strconv.Itoa(traces)).
		SetBody(body).
		Put(path)
	if err != nil {
		return fmt.Errorf("ddapm: agent request: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("ddapm: agent responded %s", resp.Status())
	}
	return nil
}
