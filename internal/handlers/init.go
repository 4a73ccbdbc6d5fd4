package handlers

import (
	"database/sql"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"postdeck/internal/ledger"
	"postdeck/internal/provisioner"
	"postdeck/internal/reconciler"
	stripeclient "postdeck/internal/stripe"
	"postdeck/pkg/clients/ayrshare"
	"postdeck/pkg/crypto"
	"postdeck/pkg/logging"
)

var (
	db             *sql.DB
	logger         logging.Logger
	emailService   *EmailService
	metrics        *HeraldMetrics
	eventLedger    *ledger.Ledger
	wsProvisioner  *provisioner.Provisioner
	schedReconcile *reconciler.Reconciler
	stripeClient   *stripeclient.Client
	ayrClient      *ayrshare.Client
	fieldEncryptor *crypto.FieldEncryptor

	// Shared secret required on distribution webhooks. Empty disables the
	// check (the provider does not sign payloads by default).
	ayrshareWebhookSecret string
)

// HeraldMetrics holds all Prometheus metrics for Herald
type HeraldMetrics struct {
	WebhookEvents            *prometheus.CounterVec
	WebhookSignatureFailures *prometheus.CounterVec
	QuarantinedEvents        *prometheus.CounterVec
	ProvisioningRuns         *prometheus.CounterVec
	DBQueries                *prometheus.CounterVec
	DBDuration               *prometheus.HistogramVec
	DBConnections            *prometheus.GaugeVec
}

// Deps carries the service dependencies the handlers dispatch into.
type Deps struct {
	Ledger      *ledger.Ledger
	Provisioner *provisioner.Provisioner
	Reconciler  *reconciler.Reconciler
	Stripe      *stripeclient.Client
	Ayrshare    *ayrshare.Client
	Encryptor   *crypto.FieldEncryptor
}

// Init initializes the handlers with database, logger, metrics, and service clients
func Init(database *sql.DB, log logging.Logger, heraldMetrics *HeraldMetrics, deps Deps) {
	db = database
	logger = log
	emailService = NewEmailService(log)
	metrics = heraldMetrics
	eventLedger = deps.Ledger
	wsProvisioner = deps.Provisioner
	schedReconcile = deps.Reconciler
	stripeClient = deps.Stripe
	ayrClient = deps.Ayrshare
	fieldEncryptor = deps.Encryptor
	ayrshareWebhookSecret = os.Getenv("AYRSHARE_WEBHOOK_SECRET")
}

func recordWebhookEvent(provider, eventType, outcome string) {
	if metrics == nil || metrics.WebhookEvents == nil {
		return
	}
	metrics.WebhookEvents.WithLabelValues(provider, eventType, outcome).Inc()
}

func recordWebhookSignatureFailure(provider string) {
	if metrics == nil || metrics.WebhookSignatureFailures == nil {
		return
	}
	metrics.WebhookSignatureFailures.WithLabelValues(provider).Inc()
}

func recordProvisioningRun(outcome string) {
	if metrics == nil || metrics.ProvisioningRuns == nil {
		return
	}
	metrics.ProvisioningRuns.WithLabelValues(outcome).Inc()
}

func recordQuarantinedEvent(provider string) {
	if metrics == nil || metrics.QuarantinedEvents == nil {
		return
	}
	metrics.QuarantinedEvents.WithLabelValues(provider).Inc()
}
