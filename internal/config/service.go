package config

import "time"

type ServiceConfig struct {
	Name            string `yaml:"name"`
	Environment     string `yaml:"environment"`
	Version         string `yaml:"version"`
	ClientURL       string `yaml:"client_url"`
	StripeSecretKey string `yaml:"stripe_secret_key"`
}

// BillingConfig tunes the retry behaviour shared by invoice payments and
// subscription renewals.
type BillingConfig struct {
	RetryBaseDelay     time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay      time.Duration `yaml:"retry_max_delay"`
	MaxAttempts        int           `yaml:"max_attempts"`
	RenewalMaxAttempts int           `yaml:"renewal_max_attempts"`
}

// WebhookConfig tunes outbound webhook delivery.
type WebhookConfig struct {
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	MaxAttempts     int           `yaml:"max_attempts"`
	SignatureHeader string        `yaml:"signature_header"`
}

// WorkerConfig drives the polling sweeps. The sweeps only call public
// workflow operations; they carry no business logic of their own.
type WorkerConfig struct {
	OutboxInterval       time.Duration `yaml:"outbox_interval"`
	OutboxBatchSize      int           `yaml:"outbox_batch_size"`
	InvoiceSweepInterval time.Duration `yaml:"invoice_sweep_interval"`
	RenewalInterval      time.Duration `yaml:"renewal_interval"`
	CleanupInterval      time.Duration `yaml:"cleanup_interval"`
	CleanupRetention     time.Duration `yaml:"cleanup_retention"`
}
