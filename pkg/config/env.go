package config

const EnvPrefix = "CARTSYNC"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv          = "CARTSYNC_APP_ENV"
	EnvPort            = "CARTSYNC_APP_PORT"
	EnvLogLevel        = "CARTSYNC_LOG_LEVEL"
	EnvRemoteBaseURL   = "CARTSYNC_REMOTE_BASE_URL"
	EnvRemoteTimeout   = "CARTSYNC_REMOTE_TIMEOUT"
	EnvJWTSecret       = "CARTSYNC_JWT_SECRET"
	EnvJWTIssuer       = "CARTSYNC_JWT_ISSUER"
	EnvRedisURL        = "CARTSYNC_REDIS_URL"
	EnvRedisAddr       = "CARTSYNC_REDIS_ADDR"
	EnvComboRootPrefix = "CARTSYNC_CART_COMBO_ROOT_PREFIX"
	EnvSnapshotTTL     = "CARTSYNC_CART_SNAPSHOT_TTL"
	EnvEventHeartbeat  = "CARTSYNC_CART_EVENT_HEARTBEAT"
)
