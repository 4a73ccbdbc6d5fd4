package handlers

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"time"

	"postdeck/pkg/email"
	"postdeck/pkg/logging"
)

// EmailService handles operator alerts and customer billing notifications.
type EmailService struct {
	sender     *email.Sender
	alertEmail string
	logger     logging.Logger
}

// EmailData represents data for email templates
type EmailData struct {
	WorkspaceName string
	WorkspaceID   string
	Reason        string
	InvoiceID     string
	Amount        float64
	Currency      string
	LoginURL      string
}

// NewEmailService creates a new email service instance
func NewEmailService(logger logging.Logger) *EmailService {
	port := os.Getenv("SMTP_PORT")
	if port == "" {
		port = "587"
	}

	return &EmailService{
		sender: email.NewSender(email.Config{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     port,
			User:     os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("FROM_EMAIL"),
			FromName: os.Getenv("FROM_NAME"),
		}),
		alertEmail: os.Getenv("OPERATOR_ALERT_EMAIL"),
		logger:     logger,
	}
}

// IsConfigured checks if email service is properly configured
func (es *EmailService) IsConfigured() bool {
	return os.Getenv("SMTP_HOST") != "" && os.Getenv("FROM_EMAIL") != ""
}

// ProvisioningFailed alerts the operator channel that a paying workspace has
// no distribution profile. Satisfies the provisioner's notifier contract.
func (es *EmailService) ProvisioningFailed(workspaceID, workspaceName, reason string) {
	if !es.IsConfigured() || es.alertEmail == "" {
		es.logger.WithFields(logging.Fields{
			"workspace_id": workspaceID,
			"reason":       reason,
		}).Warn("Email service not configured, provisioning failure alert only logged")
		return
	}

	subject := fmt.Sprintf("Provisioning failed for workspace %s", workspaceName)
	body, err := es.renderTemplate("provisioning_failed", EmailData{
		WorkspaceName: workspaceName,
		WorkspaceID:   workspaceID,
		Reason:        reason,
	})
	if err != nil {
		es.logger.WithError(err).Error("Failed to render provisioning failure alert")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := es.sender.SendMail(ctx, es.alertEmail, subject, body); err != nil {
		es.logger.WithError(err).WithField("workspace_id", workspaceID).Error("Failed to send provisioning failure alert")
		return
	}

	es.logger.WithField("workspace_id", workspaceID).Info("Sent provisioning failure alert")
}

// SendPaymentFailedEmail notifies a workspace's billing contact that an
// invoice payment failed.
func (es *EmailService) SendPaymentFailedEmail(billingEmail, workspaceName, invoiceID string, amount float64, currency string) error {
	if !es.IsConfigured() {
		es.logger.Warn("Email service not configured, skipping payment failed email")
		return nil
	}

	subject := fmt.Sprintf("Payment Failed - Invoice %s", invoiceID)
	body, err := es.renderTemplate("payment_failed", EmailData{
		WorkspaceName: workspaceName,
		InvoiceID:     invoiceID,
		Amount:        amount,
		Currency:      currency,
		LoginURL:      os.Getenv("BASE_URL") + "/login",
	})
	if err != nil {
		return fmt.Errorf("failed to render payment failed template: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return es.sender.SendMail(ctx, billingEmail, subject, body)
}

// sendPaymentFailedEmail looks up the workspace billing contact and sends the
// payment-failed notification. Fire-and-forget from the webhook path.
func sendPaymentFailedEmail(workspaceID, invoiceID string, amount float64, currency string) {
	var billingEmail, name string
	err := db.QueryRow(`
		SELECT COALESCE(billing_email, ''), name FROM herald.workspaces WHERE id = $1
	`, workspaceID).Scan(&billingEmail, &name)
	if err != nil {
		logger.WithFields(logging.Fields{
			"error":        err.Error(),
			"workspace_id": workspaceID,
		}).Error("Failed to get billing email for payment notification")
		return
	}
	if billingEmail == "" {
		logger.WithField("workspace_id", workspaceID).Warn("No billing email found for payment notification")
		return
	}

	if err := emailService.SendPaymentFailedEmail(billingEmail, name, invoiceID, amount, currency); err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"billing_email": billingEmail,
			"invoice_id":    invoiceID,
		}).Error("Failed to send payment failed email")
	}
}

// renderTemplate renders an email template with data
func (es *EmailService) renderTemplate(templateName string, data EmailData) (string, error) {
	templates := map[string]string{
		"provisioning_failed": `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Provisioning Failed</title>
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2 style="color: #e74c3c;">Profile Provisioning Failed</h2>

        <p>A paying workspace is left without a distribution profile and needs manual remediation:</p>

        <div style="background-color: #f8d7da; padding: 20px; border-radius: 5px; margin: 20px 0; border-left: 4px solid #e74c3c;">
            <p><strong>Workspace:</strong> {{.WorkspaceName}}</p>
            <p><strong>Workspace ID:</strong> {{.WorkspaceID}}</p>
            <p><strong>Reason:</strong> {{.Reason}}</p>
        </div>

        <p>Billing remains active. Re-run provisioning via the repair endpoint once the underlying issue is resolved.</p>
    </div>
</body>
</html>`,

		"payment_failed": `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Payment Failed</title>
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2 style="color: #e74c3c;">Payment Failed</h2>

        <p>Hello {{.WorkspaceName}},</p>

        <p>We were unable to process your payment for the following invoice:</p>

        <div style="background-color: #f8d7da; padding: 20px; border-radius: 5px; margin: 20px 0; border-left: 4px solid #e74c3c;">
            <p><strong>Invoice ID:</strong> {{.InvoiceID}}</p>
            <p><strong>Amount:</strong> {{.Amount}} {{.Currency}}</p>
        </div>

        <p>Please check your payment method and try again, or contact your bank if the issue persists.</p>

        <p style="text-align: center; margin: 30px 0;">
            <a href="{{.LoginURL}}" style="background-color: #e74c3c; color: white; padding: 12px 24px; text-decoration: none; border-radius: 5px; display: inline-block;">Retry Payment</a>
        </p>

        <p>If you continue to experience issues, please contact our support team.</p>

        <p>Best regards,<br>The PostDeck Team</p>
    </div>
</body>
</html>`,
	}

	tmplContent, exists := templates[templateName]
	if !exists {
		return "", fmt.Errorf("template %s not found", templateName)
	}

	tmpl, err := template.New(templateName).Parse(tmplContent)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}
