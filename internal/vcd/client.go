package vcd

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/kubev2v/vdc-migrator/internal/migration"
)

const (
	accessTokenHeader = "X-VMWARE-VCLOUD-ACCESS-TOKEN"
	jsonContentType   = "application/json"
	legacyContentType = "application/*+json"
)

// Client is the tenant side of a migration run. It speaks JSON to both the cloudapi and
// the legacy api of the tenant-management service.
type Client struct {
	cfg   Config
	base  *url.URL
	http  *retryablehttp.Client
	token string
}

func NewClient(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	base, err := url.ParseRequestURI(strings.TrimSuffix(cfg.URL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid vcd url %q", cfg.URL)
	}

	hc := retryablehttp.NewClient()
	hc.RetryMax = cfg.RetryMax
	hc.Logger = leveledLogger{zap.S().Named("vcd")}
	// hand back the last reply so its error body can be read
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	hc.HTTPClient.Timeout = 5 * time.Minute
	if cfg.Insecure {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
		hc.HTTPClient.Transport = transport
	}

	return &Client{cfg: cfg, base: base, http: hc}, nil
}

// Login opens a provider session and keeps the bearer token for later calls.
func (c *Client) Login(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/cloudapi/1.0.0/sessions/provider", nil, jsonContentType)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.cfg.Username+"@"+c.cfg.Org, c.cfg.Password)

	resp, err := c.send(req)
	if err != nil {
		return errors.Wrap(err, "vcd login")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Wrap(readError(resp), "vcd login")
	}
	c.token = resp.Header.Get(accessTokenHeader)
	if c.token == "" {
		return errors.New("vcd login: no access token in reply")
	}
	zap.S().Named("vcd").Infof("logged into %s as %s@%s", c.base.Host, c.cfg.Username, c.cfg.Org)
	return nil
}

func (c *Client) Logout(ctx context.Context) error {
	if c.token == "" {
		return nil
	}
	err := c.do(ctx, http.MethodDelete, "/cloudapi/1.0.0/sessions/current", nil, nil, jsonContentType)
	c.token = ""
	return err
}

func (c *Client) resolve(ref string) (string, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}
	u, err := c.base.Parse(c.base.Path + ref)
	if err != nil {
		return "", errors.Wrapf(err, "invalid path %q", ref)
	}
	return u.String(), nil
}

func (c *Client) newRequest(ctx context.Context, method, ref string, body any, accept string) (*retryablehttp.Request, error) {
	target, err := c.resolve(ref)
	if err != nil {
		return nil, err
	}

	var payload io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encoding request")
		}
		payload = bytes.NewReader(buf)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, payload)
	if err != nil {
		return nil, errors.Wrapf(err, "building %s %s", method, ref)
	}
	req.Header.Set("Accept", fmt.Sprintf("%s;version=%s", accept, c.cfg.APIVersion))
	if body != nil {
		req.Header.Set("Content-Type", accept)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do sends the request and decodes a successful reply into out when out is not nil.
// 404 replies are reported as migration.ErrResourceNotFound.
func (c *Client) do(ctx context.Context, method, ref string, body, out any, accept string) error {
	req, err := c.newRequest(ctx, method, ref, body, accept)
	if err != nil {
		return err
	}
	zap.S().Named("vcd").Debugf("%s %s", method, req.URL.String())

	resp, err := c.send(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, ref)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return migration.NewErrResourceNotFound("object", ref)
	case resp.StatusCode >= 300:
		return errors.Wrapf(readError(resp), "%s %s", method, ref)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return errors.Wrapf(err, "decoding reply of %s %s", method, ref)
	}
	return nil
}

func (c *Client) send(req *retryablehttp.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil && resp == nil {
		return nil, err
	}
	// retry policy errors come with the last reply, whose body says more
	return resp, nil
}

func readError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		return errors.Errorf("%s (%d %s)", apiErr.Message, resp.StatusCode, apiErr.MinorErrorCode)
	}
	return errors.Errorf("unexpected status %s", resp.Status)
}

// waitTask polls a remote task until it leaves the queued and running states.
func (c *Client) waitTask(ctx context.Context, t task) error {
	log := zap.S().Named("vcd")
	ticker := time.NewTicker(c.cfg.TaskPollInterval)
	defer ticker.Stop()

	for {
		switch t.Status {
		case "success":
			return nil
		case "error", "aborted", "canceled":
			if t.Error != nil {
				return errors.Errorf("task %s %s: %s", t.Operation, t.Status, t.Error.Message)
			}
			return errors.Errorf("task %s %s", t.Operation, t.Status)
		}
		log.Debugf("task %s: %s %d%%", t.Href, t.Status, t.Progress)

		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "waiting for task %s", t.Href)
		case <-ticker.C:
		}

		var next task
		if err := c.do(ctx, http.MethodGet, t.Href, nil, &next, legacyContentType); err != nil {
			return err
		}
		t = next
	}
}

// leveledLogger routes retryablehttp logs to zap.
type leveledLogger struct {
	l *zap.SugaredLogger
}

func (z leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	z.l.Errorw(msg, keysAndValues...)
}

func (z leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	z.l.Debugw(msg, keysAndValues...)
}

func (z leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	z.l.Debugw(msg, keysAndValues...)
}

func (z leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	z.l.Warnw(msg, keysAndValues...)
}
