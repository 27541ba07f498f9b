package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/ABCWORK9/mintydoc/internal/flagx"
	"github.com/ABCWORK9/mintydoc/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// Interval fields use timex.Duration, which accepts both "10m" style strings
// and integer nanoseconds. Only keys present in the file override Config.
type JsonConfig struct {
	EndpointAddrHTTP      *string         `json:"endpoint_addr_http"`
	EndpointAddrGRPC      *string         `json:"endpoint_addr_grpc"`
	DatabaseDSN           *string         `json:"database_dsn"`
	LogFormat             *string         `json:"log_format"`
	LogLevel              *string         `json:"log_level"`
	SecretKey             *string         `json:"secret_key"`
	OperatorTokenValidity *timex.Duration `json:"operator_token_validity"`

	S3RootUser     *string `json:"s3_root_user"`
	S3RootPassword *string `json:"s3_root_password"`
	S3Bucket       *string `json:"s3_bucket"`
	S3Region       *string `json:"s3_region"`
	S3BaseEndpoint *string `json:"s3_base_endpoint"`

	ChainID          *int64  `json:"chain_id"`
	RPCURL           *string `json:"rpc_url"`
	ContractAddress  *string `json:"contract_address"`
	SignerPrivateKey *string `json:"signer_private_key"`
	OwnerPrivateKey  *string `json:"owner_private_key"`

	ArweaveNodeURL      *string         `json:"arweave_node_url"`
	ArweaveWalletJWKB64 *string         `json:"arweave_wallet_json_b64"`
	ArweavePriceURL     *string         `json:"arweave_price_url"`
	ARUSDPriceURL       *string         `json:"ar_usd_price_url"`
	ARUSDFallback       *float64        `json:"ar_usd_fallback"`
	ARUSDCacheTTL       *timex.Duration `json:"ar_usd_cache_ttl"`
	BaseFeeCents        *uint64         `json:"base_fee_cents"`
	MarkupMultiplier    *uint64         `json:"markup_multiplier"`
	ReservationTTL      *timex.Duration `json:"reservation_ttl"`
	IPRateLimit         *int            `json:"ip_rate_limit"`
	IPRateWindow        *timex.Duration `json:"ip_rate_window"`
	WalletHourlyLimit   *int            `json:"wallet_hourly_limit"`
	IdempotencyTTL      *timex.Duration `json:"idempotency_ttl"`

	WorkerCount      *int            `json:"worker_count"`
	QueueSize        *int            `json:"queue_size"`
	UploadMaxRetries *int            `json:"upload_max_retries"`
	UploadRetryStep  *timex.Duration `json:"upload_retry_step"`
	SweepSchedule    *string         `json:"sweep_schedule"`
	SweepGrace       *timex.Duration `json:"sweep_grace"`
}

// parseJson loads configuration values from the JSON file named by the -c or
// -config flag into config. Without the flag nothing is loaded. If the file
// cannot be read or contains invalid JSON, the function panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.LogFormat, c.LogFormat)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.OperatorTokenValidity, c.OperatorTokenValidity)

	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)

	setValue(&config.ChainID, c.ChainID)
	setString(&config.RPCURL, c.RPCURL)
	setString(&config.ContractAddress, c.ContractAddress)
	setString(&config.SignerPrivateKey, c.SignerPrivateKey)
	setString(&config.OwnerPrivateKey, c.OwnerPrivateKey)

	setString(&config.ArweaveNodeURL, c.ArweaveNodeURL)
	setString(&config.ArweaveWalletJWKB64, c.ArweaveWalletJWKB64)
	setString(&config.ArweavePriceURL, c.ArweavePriceURL)
	setString(&config.ARUSDPriceURL, c.ARUSDPriceURL)
	setValue(&config.ARUSDFallback, c.ARUSDFallback)
	setDuration(&config.ARUSDCacheTTL, c.ARUSDCacheTTL)
	setValue(&config.BaseFeeCents, c.BaseFeeCents)
	setValue(&config.MarkupMultiplier, c.MarkupMultiplier)
	setDuration(&config.ReservationTTL, c.ReservationTTL)
	setValue(&config.IPRateLimit, c.IPRateLimit)
	setDuration(&config.IPRateWindow, c.IPRateWindow)
	setValue(&config.WalletHourlyLimit, c.WalletHourlyLimit)
	setDuration(&config.IdempotencyTTL, c.IdempotencyTTL)

	setValue(&config.WorkerCount, c.WorkerCount)
	setValue(&config.QueueSize, c.QueueSize)
	setValue(&config.UploadMaxRetries, c.UploadMaxRetries)
	setDuration(&config.UploadRetryStep, c.UploadRetryStep)
	setString(&config.SweepSchedule, c.SweepSchedule)
	setDuration(&config.SweepGrace, c.SweepGrace)
}

func setString(dst *string, src *string) {
	setValue(dst, src)
}

func setValue[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *timex.Duration) {
	if src != nil {
		*dst = src.Duration
	}
}
