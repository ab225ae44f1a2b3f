package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/fermentstation/internal/flagx"
	"github.com/dmitrijs2005/fermentstation/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Durations use
// timex.Duration so both "60m" and integer nanoseconds are accepted.
type JsonConfig struct {
	Environment                string         `json:"environment"`
	LogLevel                   string         `json:"log_level"`
	EndpointAddrHTTP           string         `json:"endpoint_addr_http"`
	EndpointAddrGRPC           string         `json:"endpoint_addr_grpc"`
	DatabaseDSN                string         `json:"database_dsn"`
	SecretKey                  string         `json:"secret_key"`
	BaseURL                    string         `json:"base_url"`
	ResetTokenValidityDuration timex.Duration `json:"reset_token_validity_duration"`
	SessionValidityDuration    timex.Duration `json:"session_validity_duration"`
	LockoutThreshold           int            `json:"lockout_threshold"`
	LockoutWindow              timex.Duration `json:"lockout_window"`
	LockoutStore               string         `json:"lockout_store"`
	BrevoAPIKey                string         `json:"brevo_api_key"`
	EmailSender                string         `json:"email_sender"`
	EmailSenderName            string         `json:"email_sender_name"`
	EasyBeerUser               string         `json:"easybeer_api_user"`
	EasyBeerPassword           string         `json:"easybeer_api_pass"`
	EasyBeerBreweryID          int            `json:"easybeer_id_brasserie"`
	EasyBeerBaseURL            string         `json:"easybeer_base_url"`
	S3RootUser                 string         `json:"s3_root_user"`
	S3RootPassword             string         `json:"s3_root_password"`
	S3Bucket                   string         `json:"s3_bucket"`
	S3Region                   string         `json:"s3_region"`
	S3BaseEndpoint             string         `json:"s3_base_endpoint"`
	AllowedTenants             []string       `json:"allowed_tenants"`
	HarvestTemplatePath        string         `json:"harvest_template_path"`
	RecipientsPath             string         `json:"recipients_path"`
	FicheTemplatePath          string         `json:"fiche_template_path"`
	RulerTablePath             string         `json:"ruler_table_path"`
	ProposalSlots              int            `json:"proposal_slots"`
}

// parseJson overlays values from the file named by -c/-config. Keys absent
// from the file keep their current value. A missing or malformed file panics.
func parseJson(config *Config) {

	// -c/-config, then $FERMENTSTATION_CONFIG
	jsonConfigFile := flagx.ConfigPath(os.Args[1:])

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	setString(&config.Environment, c.Environment)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.BaseURL, c.BaseURL)
	if c.ResetTokenValidityDuration.Duration > 0 {
		config.ResetTokenValidityDuration = c.ResetTokenValidityDuration.Duration
	}
	if c.SessionValidityDuration.Duration > 0 {
		config.SessionValidityDuration = c.SessionValidityDuration.Duration
	}
	setInt(&config.LockoutThreshold, c.LockoutThreshold)
	if c.LockoutWindow.Duration > 0 {
		config.LockoutWindow = c.LockoutWindow.Duration
	}
	setString(&config.LockoutStore, c.LockoutStore)
	setString(&config.BrevoAPIKey, c.BrevoAPIKey)
	setString(&config.EmailSender, c.EmailSender)
	setString(&config.EmailSenderName, c.EmailSenderName)
	setString(&config.EasyBeerUser, c.EasyBeerUser)
	setString(&config.EasyBeerPassword, c.EasyBeerPassword)
	setInt(&config.EasyBeerBreweryID, c.EasyBeerBreweryID)
	setString(&config.EasyBeerBaseURL, c.EasyBeerBaseURL)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	if c.AllowedTenants != nil {
		config.AllowedTenants = c.AllowedTenants
	}
	setString(&config.HarvestTemplatePath, c.HarvestTemplatePath)
	setString(&config.RecipientsPath, c.RecipientsPath)
	setString(&config.FicheTemplatePath, c.FicheTemplatePath)
	setString(&config.RulerTablePath, c.RulerTablePath)
	setInt(&config.ProposalSlots, c.ProposalSlots)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
