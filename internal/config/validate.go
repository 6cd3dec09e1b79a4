package config

import (
	"fmt"
	"strings"

	"grimm.is/ddnsfw/internal/logging"
	"grimm.is/ddnsfw/internal/validation"
)

// ValidationError represents a settings validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate checks settings after defaults have been applied.
func (s *Settings) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field string, err error) {
		if err != nil {
			errs = append(errs, ValidationError{Field: field, Message: err.Error()})
		}
	}

	add("backend", validation.ValidateAllowlist(s.Backend, []string{"iptables", "nftables"}))
	add("chain", validation.ValidateIdentifier(s.Chain))
	if s.Backend == "nftables" {
		add("table", validation.ValidateIdentifier(s.Table))
		add("family", validation.ValidateAllowlist(s.Family, []string{"inet", "ip"}))
	}
	add("protocol", validation.ValidateProtocol(s.Protocol))

	if s.MaxRules < 1 || s.MaxRules > DefaultMaxRules {
		errs = append(errs, ValidationError{Field: "max_rules", Message: fmt.Sprintf("must be between 1 and %d", DefaultMaxRules)})
	}
	if s.lockTimeout < 0 {
		errs = append(errs, ValidationError{Field: "lock_timeout", Message: "must not be negative"})
	}

	if s.Resolver != nil {
		add("resolver.mode", validation.ValidateAllowlist(s.Resolver.Mode, []string{"dns", "system"}))
		switch {
		case s.Resolver.timeout <= 0:
			errs = append(errs, ValidationError{Field: "resolver.timeout", Message: "must be positive"})
		case s.Resolver.timeout > MaxResolverTimeout:
			errs = append(errs, ValidationError{Field: "resolver.timeout", Message: fmt.Sprintf("must be at most %s", MaxResolverTimeout)})
		}
		for _, srv := range s.Resolver.Servers {
			add("resolver.servers", validation.ValidateNameserver(srv))
		}
	}

	if s.Log != nil {
		_, err := logging.ParseLevel(s.Log.Level)
		add("log.level", err)
	}

	if s.Syslog != nil && s.Syslog.Enabled {
		if s.Syslog.Host == "" {
			errs = append(errs, ValidationError{Field: "syslog.host", Message: "required when syslog is enabled"})
		}
		if s.Syslog.Port != 0 {
			add("syslog.port", validation.ValidatePortNumber(s.Syslog.Port))
		}
		if s.Syslog.Protocol != "" {
			add("syslog.protocol", validation.ValidateAllowlist(s.Syslog.Protocol, []string{"udp", "tcp"}))
		}
	}

	if s.History != nil && s.History.Keep < 1 {
		errs = append(errs, ValidationError{Field: "history.keep", Message: "must be at least 1"})
	}

	return errs
}
