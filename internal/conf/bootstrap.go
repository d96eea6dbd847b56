// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment
// variables, with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies
// defaults, and allows overrides from environment variables prefixed
// with BASTION_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// The shared counter store (Redis) and the audit database (MySQL) are both
// optional: leaving their addresses empty runs the protection layer on its
// in-process fallbacks.
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	// Enable environment variable support with BASTION_ prefix
	v.SetEnvPrefix("BASTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names for deploy compatibility
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "BASTION_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "BASTION_DATA_REDIS_ADDR")
	_ = v.BindEnv("engine.base_url", "ENGINE_URL", "BASTION_ENGINE_BASE_URL")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
				OpTimeout:    durationpb.New(v.GetDuration("data.redis.op_timeout")),
			},
		},
		Engine: &Engine{
			BaseURL:  v.GetString("engine.base_url"),
			ProxyURL: v.GetString("engine.proxy_url"),
			Timeout:  durationpb.New(v.GetDuration("engine.timeout")),
		},
		Protection: &Protection{
			RateLimit: &Protection_RateLimit{
				IP: &Protection_Quota{
					Limit:  v.GetInt64("protection.rate_limit.ip.limit"),
					Window: durationpb.New(v.GetDuration("protection.rate_limit.ip.window")),
				},
				User: &Protection_Quota{
					Limit:  v.GetInt64("protection.rate_limit.user.limit"),
					Window: durationpb.New(v.GetDuration("protection.rate_limit.user.window")),
				},
				Endpoint:           loadEndpointQuotas(v),
				ViolationThreshold: v.GetInt("protection.rate_limit.violation_threshold"),
				ViolationWindow:    durationpb.New(v.GetDuration("protection.rate_limit.violation_window")),
				BlockDuration:      durationpb.New(v.GetDuration("protection.rate_limit.block_duration")),
			},
			Breaker: &Protection_Breaker{
				FailureThreshold: v.GetInt("protection.breaker.failure_threshold"),
				CoolDown:         durationpb.New(v.GetDuration("protection.breaker.cool_down")),
				CallTimeout:      durationpb.New(v.GetDuration("protection.breaker.call_timeout")),
			},
			Queue: &Protection_Queue{
				Capacity:  v.GetInt("protection.queue.capacity"),
				MaxWait:   durationpb.New(v.GetDuration("protection.queue.max_wait")),
				DrainRate: v.GetFloat64("protection.queue.drain_rate"),
			},
			Backpressure: &Protection_Backpressure{
				EnterThreshold:     v.GetFloat64("protection.backpressure.enter_threshold"),
				ExitThreshold:      v.GetFloat64("protection.backpressure.exit_threshold"),
				MaxInFlight:        v.GetInt("protection.backpressure.max_in_flight"),
				StoreLatencyBudget: durationpb.New(v.GetDuration("protection.backpressure.store_latency_budget")),
			},
			Validation: &Protection_Validation{
				MaxContentLength:    v.GetInt64("protection.validation.max_content_length"),
				AllowedContentTypes: loadContentTypes(v),
				MaxJSONDepth:        v.GetInt("protection.validation.max_json_depth"),
				MaxJSONElements:     v.GetInt("protection.validation.max_json_elements"),
			},
			Webhook: &Protection_Webhook{
				URL:     v.GetString("protection.webhook.url"),
				Timeout: durationpb.New(v.GetDuration("protection.webhook.timeout")),
			},
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// loadEndpointQuotas parses the per-endpoint quota map:
//
//	protection.rate_limit.endpoint:
//	  /v1/simulations:
//	    limit: 50
//	    window: 60s
func loadEndpointQuotas(v *viper.Viper) map[string]*Protection_Quota {
	quotas := make(map[string]*Protection_Quota)
	for endpoint := range v.GetStringMap("protection.rate_limit.endpoint") {
		prefix := "protection.rate_limit.endpoint." + endpoint
		quotas[endpoint] = &Protection_Quota{
			Limit:  v.GetInt64(prefix + ".limit"),
			Window: durationpb.New(v.GetDuration(prefix + ".window")),
		}
	}
	return quotas
}

// loadContentTypes parses the per-endpoint content-type allow-lists.
// The "*" key is the default list applied to unlisted endpoints.
func loadContentTypes(v *viper.Viper) map[string][]string {
	allowed := make(map[string][]string)
	for endpoint := range v.GetStringMap("protection.validation.allowed_content_types") {
		key := "protection.validation.allowed_content_types." + endpoint
		allowed[endpoint] = v.GetStringSlice(key)
	}
	if _, ok := allowed["*"]; !ok {
		allowed["*"] = []string{"application/json"}
	}
	return allowed
}

// setDefaults sets default configuration values. The quota numbers are
// operational defaults, not contractual behavior.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 30*time.Second)

	// Data defaults: both backends optional
	v.SetDefault("data.database.driver", "mysql")
	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.op_timeout", 50*time.Millisecond)

	// Engine defaults
	v.SetDefault("engine.base_url", "http://localhost:9000")
	v.SetDefault("engine.timeout", 15*time.Second)

	// Rate limit defaults: 100/min per IP, 1000/hour per user
	v.SetDefault("protection.rate_limit.ip.limit", 100)
	v.SetDefault("protection.rate_limit.ip.window", time.Minute)
	v.SetDefault("protection.rate_limit.user.limit", 1000)
	v.SetDefault("protection.rate_limit.user.window", time.Hour)
	v.SetDefault("protection.rate_limit.violation_threshold", 5)
	v.SetDefault("protection.rate_limit.violation_window", 5*time.Minute)
	v.SetDefault("protection.rate_limit.block_duration", time.Hour)

	// Breaker defaults
	v.SetDefault("protection.breaker.failure_threshold", 3)
	v.SetDefault("protection.breaker.cool_down", 30*time.Second)
	v.SetDefault("protection.breaker.call_timeout", 10*time.Second)

	// Queue defaults
	v.SetDefault("protection.queue.capacity", 100)
	v.SetDefault("protection.queue.max_wait", 5*time.Second)
	v.SetDefault("protection.queue.drain_rate", 50.0)

	// Backpressure defaults
	v.SetDefault("protection.backpressure.enter_threshold", 0.8)
	v.SetDefault("protection.backpressure.exit_threshold", 0.5)
	v.SetDefault("protection.backpressure.max_in_flight", 256)
	v.SetDefault("protection.backpressure.store_latency_budget", 100*time.Millisecond)

	// Validation defaults
	v.SetDefault("protection.validation.max_content_length", 1<<20) // 1 MiB
	v.SetDefault("protection.validation.max_json_depth", 16)
	v.SetDefault("protection.validation.max_json_elements", 10000)

	// Webhook defaults: disabled
	v.SetDefault("protection.webhook.url", "")
	v.SetDefault("protection.webhook.timeout", 5*time.Second)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that the loaded configuration is internally consistent.
// It returns an error listing every invalid field.
func Validate(bc *Bootstrap) error {
	var invalid []string

	p := bc.Protection
	if p == nil {
		return fmt.Errorf("missing protection configuration")
	}

	if p.RateLimit == nil || p.RateLimit.IP == nil || p.RateLimit.IP.Limit <= 0 {
		invalid = append(invalid, "protection.rate_limit.ip.limit must be positive")
	}
	if p.RateLimit != nil && p.RateLimit.ViolationThreshold <= 0 {
		invalid = append(invalid, "protection.rate_limit.violation_threshold must be positive")
	}
	if p.Breaker == nil || p.Breaker.FailureThreshold <= 0 {
		invalid = append(invalid, "protection.breaker.failure_threshold must be positive")
	}
	if p.Queue == nil || p.Queue.Capacity <= 0 {
		invalid = append(invalid, "protection.queue.capacity must be positive")
	}
	if p.Backpressure != nil && p.Backpressure.EnterThreshold <= p.Backpressure.ExitThreshold {
		invalid = append(invalid, "protection.backpressure.enter_threshold must exceed exit_threshold")
	}
	if p.Validation == nil || p.Validation.MaxContentLength <= 0 {
		invalid = append(invalid, "protection.validation.max_content_length must be positive")
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(invalid, "; "))
	}

	return nil
}
