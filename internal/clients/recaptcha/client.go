package recaptcha

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"max.ks1230/grants-portal/internal/logger"
	"max.ks1230/grants-portal/internal/model/customerr"
)

const (
	defaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"
	secretParam      = "secret"
	responseParam    = "response"
)

type config interface {
	Secret() string
	SiteKey() string
	VerifyURL() string
}

type Client struct {
	secret    string
	siteKey   string
	verifyURL string
	http      *http.Client
}

type verifyResponse struct {
	Success    bool     `json:"success"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

func New(config config) *Client {
	verifyURL := config.VerifyURL()
	if verifyURL == "" {
		verifyURL = defaultVerifyURL
	}
	return &Client{
		secret:    config.Secret(),
		siteKey:   config.SiteKey(),
		verifyURL: verifyURL,
		http:      &http.Client{Timeout: 10 * time.Second},
	}
}

// SiteKey is the public key the browser widget is rendered with.
func (c *Client) SiteKey() string {
	return c.siteKey
}

func (c *Client) Verify(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return customerr.New(customerr.MissingField, "No reCAPTCHA token provided")
	}

	form := url.Values{}
	form.Set(secretParam, c.secret)
	form.Set(responseParam, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "build verify request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "verify recaptcha")
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return errors.Wrap(err, "reading response")
	}
	if res.StatusCode != http.StatusOK {
		return errors.Errorf("recaptcha verify returned %d", res.StatusCode)
	}

	verified := verifyResponse{}
	if err = json.Unmarshal(body, &verified); err != nil {
		return errors.Wrap(err, "unmarshalling response")
	}
	if !verified.Success {
		logger.Info("recaptcha rejected", zap.Strings("errors", verified.ErrorCodes))
		return customerr.Newf(customerr.Unauthorized, "reCAPTCHA verification failed: %s",
			strings.Join(verified.ErrorCodes, ", "))
	}
	return nil
}
