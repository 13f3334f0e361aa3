package config

// EnvPrefix is the namespace for every environment variable consumed here.
const EnvPrefix = "BOOKING"

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

const (
	EnvAppEnv = "BOOKING_APP_ENV"

	EnvDBDSN  = "BOOKING_DB_DSN"
	EnvDBHost = "BOOKING_DB_HOST"
	EnvDBUser = "BOOKING_DB_USER"
	EnvDBName = "BOOKING_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
