package config

import (
	"fmt"
	"net"
	"net/url"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/vietddude/blockmon/internal/infra/telemetry"
)

// Error reports an unusable configuration. It is fatal at startup.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid configuration: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validate checks the configuration and returns *Error on failure.
func (c *AppConfig) Validate() error {
	err := validation.Errors{
		"server": validation.ValidateStruct(&c.Server,
			validation.Field(&c.Server.Listen, validation.Required, validation.By(validateHostPort)),
		),
		"rpc": validation.ValidateStruct(&c.RPC,
			validation.Field(&c.RPC.HTTPURL, validation.Required, validation.By(urlWithScheme("http", "https"))),
			validation.Field(&c.RPC.WSURL, validation.When(c.RPC.WSURL != "", validation.By(urlWithScheme("ws", "wss")))),
			validation.Field(&c.RPC.Timeout, validation.Required, validation.Min(time.Millisecond)),
		),
		"monitor": validation.ValidateStruct(&c.Monitor,
			validation.Field(&c.Monitor.BlockFrequency, validation.Required, validation.Min(uint64(1))),
		),
		"subscriber": validation.ValidateStruct(&c.Subscriber,
			validation.Field(&c.Subscriber.MaxReconnects, validation.Min(0)),
		),
		"redis": validation.ValidateStruct(&c.Redis,
			validation.Field(&c.Redis.URL, validation.When(c.Redis.URL != "", validation.By(urlWithScheme("redis", "rediss")))),
		),
		"logging": validation.ValidateStruct(&c.Logging,
			validation.Field(&c.Logging.Level, validation.Required, validation.In("debug", "info", "warn", "error")),
		),
		"tracing": validation.ValidateStruct(&c.Tracing,
			validation.Field(&c.Tracing.Endpoint, validation.When(c.Tracing.Endpoint != "" && c.Tracing.Endpoint != telemetry.StdoutEndpoint, validation.By(validateHostPort))),
			validation.Field(&c.Tracing.SampleRate, validation.Min(0.0), validation.Max(1.0)),
		),
	}.Filter()
	if err != nil {
		return &Error{Err: err}
	}
	return nil
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}
	if err := is.Port.Validate(port); err != nil {
		return validation.NewError("validation_invalid_port", "invalid port")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func urlWithScheme(schemes ...string) validation.RuleFunc {
	return func(value interface{}) error {
		raw, ok := value.(string)
		if !ok {
			return validation.NewError("validation_invalid_type", "must be a string")
		}

		parsed, err := url.Parse(raw)
		if err != nil {
			return validation.NewError("validation_invalid_url", "must be a valid URL")
		}

		valid := false
		for _, s := range schemes {
			if parsed.Scheme == s {
				valid = true
				break
			}
		}
		if !valid {
			return validation.NewError("validation_invalid_scheme", fmt.Sprintf("URL must use one of %v", schemes))
		}

		if parsed.Host == "" {
			return validation.NewError("validation_missing_host", "URL must have a host")
		}

		return nil
	}
}
