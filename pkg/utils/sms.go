package utils

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// SMSSender delivers text messages to phone numbers. The production
// implementation talks to the provider's HTTP API; DevSMSSender logs
// instead of dispatching for local development.
type SMSSender interface {
	Send(message string, recipients []string) error
}

// NewSMSSender picks a sender based on environment. SMS_DEV_MODE=true
// short-circuits delivery by logging the message.
func NewSMSSender(logger *slog.Logger) SMSSender {
	if os.Getenv("SMS_DEV_MODE") == "true" {
		return &DevSMSSender{logger: logger}
	}
	return &HTTPSMSSender{
		username: os.Getenv("AT_USERNAME"),
		apiKey:   os.Getenv("AT_API_KEY"),
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

// DevSMSSender logs messages instead of sending them.
type DevSMSSender struct {
	logger *slog.Logger
}

func (s *DevSMSSender) Send(message string, recipients []string) error {
	s.logger.Info("sms dev mode, not dispatching",
		"recipients", strings.Join(recipients, ","),
		"message", message)
	return nil
}

// HTTPSMSSender sends SMS through the Africa's Talking messaging API.
type HTTPSMSSender struct {
	username string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

func (s *HTTPSMSSender) Send(message string, recipients []string) error {
	if s.username == "" {
		return fmt.Errorf("africa's talking username not set")
	}
	if s.apiKey == "" {
		return fmt.Errorf("africa's talking API key not set")
	}

	baseURL := "https://api.africastalking.com/version1/messaging"

	// Prepare the form data
	data := url.Values{}
	data.Set("username", s.username)
	data.Set("to", strings.Join(recipients, ","))
	data.Set("message", message)

	req, err := http.NewRequest("POST", baseURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("apiKey", s.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to send SMS: status code %d", resp.StatusCode)
	}

	s.logger.Info("sms sent", "recipients", len(recipients))
	return nil
}

// SendVerificationCodeSMS delivers a ride verification code to the
// rider's phone. The code is never sent to the driver.
func SendVerificationCodeSMS(sender SMSSender, riderPhone, code string) error {
	msg := fmt.Sprintf("Your ride verification code is %s. Share it with your driver only at pickup.", code)
	return sender.Send(msg, []string{riderPhone})
}
