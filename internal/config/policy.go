package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PolicyConfig groups the tunables of the purchase engine that operators may
// change without a restart.
type PolicyConfig struct {
	Checkout    CheckoutPolicy    `mapstructure:"checkout"`
	Bnpl        BnplPolicy        `mapstructure:"bnpl"`
	Outbox      OutboxPolicy      `mapstructure:"outbox"`
	Idempotency IdempotencyPolicy `mapstructure:"idempotency"`
	Payments    PaymentsPolicy    `mapstructure:"payments"`
}

type CheckoutPolicy struct {
	TTL                   time.Duration `mapstructure:"ttl"`
	CardSettleDelay       time.Duration `mapstructure:"cardSettleDelay"`
	SBPSettleDelay        time.Duration `mapstructure:"sbpSettleDelay"`
	SettlementPaidPercent int           `mapstructure:"settlementPaidPercent"`
}

type BnplPolicy struct {
	DefaultInstallments int `mapstructure:"defaultInstallments"`
	IntervalDays        int `mapstructure:"intervalDays"`
	GraceDays           int `mapstructure:"graceDays"`
	RestrictedFromDay   int `mapstructure:"restrictedFromDay"`
	SuspendedFromDay    int `mapstructure:"suspendedFromDay"`
	UpcomingWindowDays  int `mapstructure:"upcomingWindowDays"`
}

type OutboxPolicy struct {
	MaxAttempts int             `mapstructure:"maxAttempts"`
	Backoff     []time.Duration `mapstructure:"backoff"`
	BatchSize   int             `mapstructure:"batchSize"`
}

type IdempotencyPolicy struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type PaymentsPolicy struct {
	PayloadMaxBytes  int           `mapstructure:"payloadMaxBytes"`
	WebhookTolerance time.Duration `mapstructure:"webhookTolerance"`
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		Checkout: CheckoutPolicy{
			TTL:                   30 * time.Minute,
			CardSettleDelay:       9 * time.Second,
			SBPSettleDelay:        7 * time.Second,
			SettlementPaidPercent: 84,
		},
		Bnpl: BnplPolicy{
			DefaultInstallments: 4,
			IntervalDays:        14,
			GraceDays:           3,
			RestrictedFromDay:   4,
			SuspendedFromDay:    10,
			UpcomingWindowDays:  3,
		},
		Outbox: OutboxPolicy{
			MaxAttempts: 4,
			Backoff:     []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute},
			BatchSize:   50,
		},
		Idempotency: IdempotencyPolicy{
			TTL: 24 * time.Hour,
		},
		Payments: PaymentsPolicy{
			PayloadMaxBytes:  8 * 1024,
			WebhookTolerance: 5 * time.Minute,
		},
	}
}

type PolicyConfigHolder struct {
	current atomic.Value // holds PolicyConfig
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(cfg PolicyConfig) *PolicyConfigHolder {
	holder := &PolicyConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewPolicyConfigHolder(appCfg Config) (*PolicyConfigHolder, error) {
	v := viper.New()

	if appCfg.PolicyConfigPath != "" {
		v.SetConfigFile(appCfg.PolicyConfigPath)
	} else {
		v.SetConfigName("policy")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/coursemart")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("COURSEMART")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPolicyConfig()
	setPolicyDefaults(v, defaults)

	fromFile := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fromFile = false
	}

	var cfg PolicyConfig
	if err := v.UnmarshalKey("policy", &cfg); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if err := validatePolicyConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(cfg)
	if !fromFile {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PolicyConfig
		if err := v.UnmarshalKey("policy", &updated); err != nil {
			log.Printf("[policy-config] reload failed: %v", err)
			return
		}
		updated = updated.withDefaults()
		if err := validatePolicyConfig(updated); err != nil {
			log.Printf("[policy-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[policy-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PolicyConfigHolder) Get() PolicyConfig {
	if h == nil {
		return DefaultPolicyConfig()
	}
	cfg, ok := h.current.Load().(PolicyConfig)
	if !ok {
		return DefaultPolicyConfig()
	}
	return cfg
}

func setPolicyDefaults(v *viper.Viper, d PolicyConfig) {
	v.SetDefault("policy.checkout.ttl", d.Checkout.TTL)
	v.SetDefault("policy.checkout.cardSettleDelay", d.Checkout.CardSettleDelay)
	v.SetDefault("policy.checkout.sbpSettleDelay", d.Checkout.SBPSettleDelay)
	v.SetDefault("policy.checkout.settlementPaidPercent", d.Checkout.SettlementPaidPercent)
	v.SetDefault("policy.bnpl.defaultInstallments", d.Bnpl.DefaultInstallments)
	v.SetDefault("policy.bnpl.intervalDays", d.Bnpl.IntervalDays)
	v.SetDefault("policy.bnpl.graceDays", d.Bnpl.GraceDays)
	v.SetDefault("policy.bnpl.restrictedFromDay", d.Bnpl.RestrictedFromDay)
	v.SetDefault("policy.bnpl.suspendedFromDay", d.Bnpl.SuspendedFromDay)
	v.SetDefault("policy.bnpl.upcomingWindowDays", d.Bnpl.UpcomingWindowDays)
	v.SetDefault("policy.outbox.maxAttempts", d.Outbox.MaxAttempts)
	v.SetDefault("policy.outbox.batchSize", d.Outbox.BatchSize)
	v.SetDefault("policy.idempotency.ttl", d.Idempotency.TTL)
	v.SetDefault("policy.payments.payloadMaxBytes", d.Payments.PayloadMaxBytes)
	v.SetDefault("policy.payments.webhookTolerance", d.Payments.WebhookTolerance)
}

func (c PolicyConfig) withDefaults() PolicyConfig {
	d := DefaultPolicyConfig()
	if c.Checkout.TTL <= 0 {
		c.Checkout.TTL = d.Checkout.TTL
	}
	if c.Checkout.CardSettleDelay <= 0 {
		c.Checkout.CardSettleDelay = d.Checkout.CardSettleDelay
	}
	if c.Checkout.SBPSettleDelay <= 0 {
		c.Checkout.SBPSettleDelay = d.Checkout.SBPSettleDelay
	}
	if c.Checkout.SettlementPaidPercent <= 0 {
		c.Checkout.SettlementPaidPercent = d.Checkout.SettlementPaidPercent
	}
	if c.Bnpl.DefaultInstallments <= 0 {
		c.Bnpl.DefaultInstallments = d.Bnpl.DefaultInstallments
	}
	if c.Bnpl.IntervalDays <= 0 {
		c.Bnpl.IntervalDays = d.Bnpl.IntervalDays
	}
	if c.Bnpl.GraceDays <= 0 {
		c.Bnpl.GraceDays = d.Bnpl.GraceDays
	}
	if c.Bnpl.RestrictedFromDay <= 0 {
		c.Bnpl.RestrictedFromDay = d.Bnpl.RestrictedFromDay
	}
	if c.Bnpl.SuspendedFromDay <= 0 {
		c.Bnpl.SuspendedFromDay = d.Bnpl.SuspendedFromDay
	}
	if c.Bnpl.UpcomingWindowDays <= 0 {
		c.Bnpl.UpcomingWindowDays = d.Bnpl.UpcomingWindowDays
	}
	if c.Outbox.MaxAttempts <= 0 {
		c.Outbox.MaxAttempts = d.Outbox.MaxAttempts
	}
	if len(c.Outbox.Backoff) == 0 {
		c.Outbox.Backoff = d.Outbox.Backoff
	}
	if c.Outbox.BatchSize <= 0 {
		c.Outbox.BatchSize = d.Outbox.BatchSize
	}
	if c.Idempotency.TTL <= 0 {
		c.Idempotency.TTL = d.Idempotency.TTL
	}
	if c.Payments.PayloadMaxBytes <= 0 {
		c.Payments.PayloadMaxBytes = d.Payments.PayloadMaxBytes
	}
	if c.Payments.WebhookTolerance <= 0 {
		c.Payments.WebhookTolerance = d.Payments.WebhookTolerance
	}
	return c
}

func validatePolicyConfig(cfg PolicyConfig) error {
	if cfg.Checkout.SettlementPaidPercent > 100 {
		return errors.New("policy.checkout.settlementPaidPercent must be <= 100")
	}
	if cfg.Bnpl.RestrictedFromDay > cfg.Bnpl.SuspendedFromDay {
		return errors.New("policy.bnpl.restrictedFromDay must not exceed suspendedFromDay")
	}
	if cfg.Bnpl.GraceDays >= cfg.Bnpl.RestrictedFromDay {
		return errors.New("policy.bnpl.graceDays must be below restrictedFromDay")
	}
	return nil
}
