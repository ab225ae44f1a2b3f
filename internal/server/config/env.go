package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// dotenvFile is loaded into the process environment if present. Variables
// already set in the environment win over the file.
var dotenvFile = ".env"

// parseEnv overlays values from the process environment. Malformed numeric
// values panic like malformed flags do.
func parseEnv(config *Config) {
	if err := godotenv.Load(dotenvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(fmt.Errorf("loading %s: %w", dotenvFile, err))
	}

	envString(&config.Environment, "APP_ENV")
	envString(&config.LogLevel, "LOG_LEVEL")
	envString(&config.EndpointAddrHTTP, "HTTP_ADDR")
	envString(&config.EndpointAddrGRPC, "GRPC_ADDR")
	envString(&config.DatabaseDSN, "DATABASE_URL")
	envString(&config.DatabaseDSN, "DATABASE_DSN")
	envString(&config.SecretKey, "SECRET_KEY")
	envString(&config.BaseURL, "BASE_URL")
	if v, ok := envInt("RESET_TTL_MINUTES"); ok && v > 0 {
		config.ResetTokenValidityDuration = time.Duration(v) * time.Minute
	}
	if v, ok := envInt("SESSION_TTL_HOURS"); ok && v > 0 {
		config.SessionValidityDuration = time.Duration(v) * time.Hour
	}
	if v, ok := envInt("LOCKOUT_THRESHOLD"); ok && v > 0 {
		config.LockoutThreshold = v
	}
	if v, ok := os.LookupEnv("LOCKOUT_WINDOW"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			panic(fmt.Errorf("LOCKOUT_WINDOW: %w", err))
		}
		config.LockoutWindow = d
	}
	envString(&config.LockoutStore, "LOCKOUT_STORE")
	envString(&config.BrevoAPIKey, "BREVO_API_KEY")
	envString(&config.EmailSender, "EMAIL_SENDER")
	envString(&config.EmailSenderName, "EMAIL_SENDER_NAME")
	envString(&config.EasyBeerUser, "EASYBEER_API_USER")
	envString(&config.EasyBeerPassword, "EASYBEER_API_PASS")
	if v, ok := envInt("EASYBEER_ID_BRASSERIE"); ok {
		config.EasyBeerBreweryID = v
	}
	envString(&config.EasyBeerBaseURL, "EASYBEER_BASE_URL")
	envString(&config.S3RootUser, "S3_ROOT_USER")
	envString(&config.S3RootPassword, "S3_ROOT_PASSWORD")
	envString(&config.S3Bucket, "S3_BUCKET")
	envString(&config.S3Region, "S3_REGION")
	envString(&config.S3BaseEndpoint, "S3_BASE_ENDPOINT")
	if v, ok := os.LookupEnv("ALLOWED_TENANTS"); ok {
		config.AllowedTenants = splitList(v)
	}
	envString(&config.HarvestTemplatePath, "HARVEST_TEMPLATE")
	envString(&config.RecipientsPath, "HARVEST_RECIPIENTS")
	envString(&config.FicheTemplatePath, "FICHE_TEMPLATE")
	envString(&config.RulerTablePath, "RULER_TABLE")
	if v, ok := envInt("PROPOSAL_SLOTS"); ok && v > 0 {
		config.ProposalSlots = v
	}
}

func envString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string) (int, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		panic(fmt.Errorf("%s: %w", key, err))
	}
	return n, true
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
