// Package config loads typed configuration from the environment.
//
// Structs declare their variables with caarlos0/env tags and their
// constraints with go-playground/validator tags. Load parses and validates in
// one call and wraps failures in ErrParsingConfig or ErrInvalidConfig.
//
// Every package that needs settings owns its config struct (pg.Config,
// redis.Config, subscription.StripeConfig and so on); cmd/subsync loads each
// one and hands it to the matching constructor.
package config
