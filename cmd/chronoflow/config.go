package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/chronoflow/internal/logger"
)

const (
	defaultListenAddr    = "localhost:8000"
	defaultLoggingLevel  = logger.LevelInfo
	defaultEnvironment   = logger.EnvProduction
	defaultAccessTTL     = 15 * time.Minute
	defaultRefreshTTL    = 7 * 24 * time.Hour
	defaultQRCodeTTL     = 5 * time.Minute
	defaultQRRateLimit   = 10
	defaultSweepInterval = 10 * time.Minute
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// HMAC keys for access and refresh tokens, must differ
	JWTSecret        string
	JWTRefreshSecret string

	// Environment: development, production or test
	Environment string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	QRCodeTTL       time.Duration

	// Reject refresh token on second use
	StrictRotation bool

	// QR code redemptions allowed per minute from one client
	QRRateLimit int

	// How often expired tokens and codes are removed
	SweepInterval time.Duration

	// Proxies (CIDR or address) whose X-Forwarded-For and X-Real-IP are trusted
	// Empty list means the connection peer is the client
	TrustedProxies []string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:        defaultLoggingLevel,
		ListenAddr:      defaultListenAddr,
		Environment:     defaultEnvironment,
		AccessTokenTTL:  defaultAccessTTL,
		RefreshTokenTTL: defaultRefreshTTL,
		QRCodeTTL:       defaultQRCodeTTL,
		QRRateLimit:     defaultQRRateLimit,
		SweepInterval:   defaultSweepInterval,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}
	setBool := func(o *bool) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			b, err := strconv.ParseBool(value)
			if err != nil {
				return err
			}
			*o = b
			return nil
		}
	}
	setList := func(o *[]string) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			*o = (*o)[:0]
			for item := range strings.SplitSeq(value, ",") {
				if item = strings.TrimSpace(item); item != "" {
					*o = append(*o, item)
				}
			}
			return nil
		}
	}
	setInt := func(o *int) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			i, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			*o = i
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":        setString(&c.ListenAddr),
		"DATABASE_URI":       setString(&c.DatabaseDSN),
		"JWT_SECRET":         setString(&c.JWTSecret),
		"JWT_REFRESH_SECRET": setString(&c.JWTRefreshSecret),
		"LOG_LEVEL":          setString(&c.LogLevel),
		"ENVIRONMENT":        setString(&c.Environment),
		"ACCESS_TOKEN_TTL":   setDuration(&c.AccessTokenTTL),
		"REFRESH_TOKEN_TTL":  setDuration(&c.RefreshTokenTTL),
		"QR_CODE_TTL":        setDuration(&c.QRCodeTTL),
		"STRICT_ROTATION":    setBool(&c.StrictRotation),
		"QR_RATE_LIMIT":      setInt(&c.QRRateLimit),
		"SWEEP_INTERVAL":     setDuration(&c.SweepInterval),
		"TRUSTED_PROXIES":    setList(&c.TrustedProxies),
	}

	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			return fmt.Errorf("invalid %s. Err: %w", key, err)
		}
	}

	return nil
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("chronoflow", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.JWTSecret, "jwt-secret", "s", c.JWTSecret, "Access token secret")
	fs.StringVarP(&c.JWTRefreshSecret, "jwt-refresh-secret", "r", c.JWTRefreshSecret, "Refresh token secret")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (development, production, test)")
	fs.DurationVar(&c.AccessTokenTTL, "access-ttl", c.AccessTokenTTL, "Access token lifetime")
	fs.DurationVar(&c.RefreshTokenTTL, "refresh-ttl", c.RefreshTokenTTL, "Refresh token lifetime")
	fs.DurationVar(&c.QRCodeTTL, "qr-ttl", c.QRCodeTTL, "QR pairing code lifetime")
	fs.BoolVar(&c.StrictRotation, "strict-rotation", c.StrictRotation, "Reject reused refresh tokens")
	fs.IntVar(&c.QRRateLimit, "qr-rate-limit", c.QRRateLimit, "QR code redemptions per minute per client")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", c.SweepInterval, "Expired tokens cleanup interval")
	fs.StringSliceVar(&c.TrustedProxies, "trusted-proxies", c.TrustedProxies, "Comma separated proxy CIDRs allowed to set X-Forwarded-For")

	return fs.Parse(args)
}

// Check options that have no usable default
func (c *Config) Validate() error {
	switch {
	case c.DatabaseDSN == "":
		return errors.New("database uri is required")
	case c.JWTSecret == "" || c.JWTRefreshSecret == "":
		return errors.New("jwt secret and jwt refresh secret are required")
	case c.QRRateLimit <= 0:
		return fmt.Errorf("qr rate limit must be positive, got %d", c.QRRateLimit)
	}
	return nil
}
