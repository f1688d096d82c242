package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/seoulchess/backend/internal/config"
	"github.com/seoulchess/backend/internal/metrics"
	"go.uber.org/zap"
)

const (
	sevenEndpoint  = "https://gateway.seven.io/api/sms"
	twilioEndpoint = "https://api.twilio.com/2010-04-01"
)

// SMSSender dispatches a text message to an E.164 number.
type SMSSender interface {
	Send(ctx context.Context, to, body string) error
}

type SMSService struct {
	cfg    *config.Config
	client *http.Client

	sevenURL  string
	twilioURL string
}

func NewSMSService(cfg *config.Config) *SMSService {
	return &SMSService{
		cfg:       cfg,
		client:    &http.Client{Timeout: 10 * time.Second},
		sevenURL:  sevenEndpoint,
		twilioURL: twilioEndpoint,
	}
}

func (s *SMSService) Send(ctx context.Context, to, body string) error {
	if !s.cfg.SMSVerificationEnabled {
		return nil
	}

	start := time.Now()
	var err error
	switch s.cfg.SMSProvider {
	case "seven":
		err = s.sendViaSeven(ctx, to, body)
	case "twilio":
		err = s.sendViaTwilio(ctx, to, body)
	default:
		zap.L().Info("SMS (log provider)", zap.String("to", to), zap.String("body", body))
	}
	metrics.ObserveExternal("sms_"+s.cfg.SMSProvider, "send", start)
	metrics.SMSSent.WithLabelValues(s.cfg.SMSProvider, metrics.Outcome(err)).Inc()
	return err
}

// seven.io API v1: POST https://gateway.seven.io/api/sms
// Header: X-Api-Key: <key>
// Form: to=<E164>&text=<msg>&from=<id>
func (s *SMSService) sendViaSeven(ctx context.Context, to, body string) error {
	if s.cfg.SevenAPIKey == "" {
		return fmt.Errorf("seven api key missing")
	}
	form := url.Values{}
	form.Set("to", to)
	form.Set("text", body)
	if s.cfg.SMSFrom != "" {
		form.Set("from", s.cfg.SMSFrom)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.sevenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Api-Key", s.cfg.SevenAPIKey)
	return s.do(req, "seven")
}

// Twilio Messages API: POST /Accounts/<sid>/Messages.json with basic auth
// Form: To=<E164>&From=<number>&Body=<msg>
func (s *SMSService) sendViaTwilio(ctx context.Context, to, body string) error {
	if s.cfg.TwilioAccountSID == "" || s.cfg.TwilioAuthToken == "" || s.cfg.SMSFrom == "" {
		return fmt.Errorf("twilio credentials missing")
	}
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.cfg.SMSFrom)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", s.twilioURL, url.PathEscape(s.cfg.TwilioAccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.cfg.TwilioAccountSID, s.cfg.TwilioAuthToken)
	return s.do(req, "twilio")
}

func (s *SMSService) do(req *http.Request, provider string) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s send failed: %d", provider, resp.StatusCode)
	}
	return nil
}
