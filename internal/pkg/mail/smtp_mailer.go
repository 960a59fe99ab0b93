package mail

import (
	"fmt"
	"log"
	"net/smtp"
	"strings"

	"github.com/HossamFares/Lernora/internal/pkg/env"
)

// SendMail delivers a transactional mail (payment receipts, subscription
// confirmations) over SMTP. Auth is optional so a local relay works without
// credentials.
func SendMail(to string, subject string, body string) error {
	host := env.GetEnv("SMTP_HOST", "")
	port := env.GetEnv("SMTP_PORT", "25")
	username := env.GetEnv("SMTP_USERNAME", "")
	password := env.GetEnv("SMTP_PASSWORD", "")

	sender := env.GetEnv("SMTP_SENDER", "")
	if sender == "" {
		sender = "no-reply@" + senderDomain()
		log.Printf("SMTP_SENDER not set, falling back to %s", sender)
	}

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	msg := []byte(
		fmt.Sprintf("From: Lernora <%s>\r\nTo: %s\r\nSubject: %s\r\n", sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	addr := fmt.Sprintf("%s:%s", host, port)
	if err := smtp.SendMail(addr, auth, sender, []string{to}, msg); err != nil {
		log.Printf("SMTP send to %s failed: %v", to, err)
		return err
	}
	log.Printf("Mail sent to %s via %s", to, addr)
	return nil
}

// senderDomain derives the sender domain from the public site URL.
func senderDomain() string {
	domain := env.GetEnv("PUBLIC_DOMAIN", "")
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimSuffix(domain, "/")
	if domain == "" {
		return "localhost"
	}
	return domain
}
