package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"hammer/api"
)

func ParseArgs() Args {
	// server config
	pflag.String("server-url", "0.0.0.0:8080", "")
	pflag.String("node-id", "hammer-0", "")

	// db config
	pflag.String("db-user", "", "")
	pflag.String("db-password", "", "")
	pflag.String("db-host", "", "")
	pflag.Int("db-port", 5432, "")
	pflag.String("db-database", "", "")
	pflag.String("db-schema", "", "")

	// redis config
	pflag.String("redis-addr", "", "")
	pflag.String("redis-password", "", "")
	pflag.Int("redis-db", 15, "")
	pflag.String("redis-key-prefix", "hammer:", "")
	pflag.String("redis-consumer-group", "hammer-notify", "")
	pflag.Duration("redis-lock-expiry", 8*time.Second, "")

	// redis stream keys
	pflag.String("redis-stream-key-for-events", "hammer-shared-event-stream", "")

	// auth config
	pflag.String("auth-private-key", "", "base64 encoded ed25519 seed")
	pflag.String("auth-issuer", "hammer", "")
	pflag.String("auth-audience", "hammer", "")
	pflag.Duration("auth-expire-duration", 3*time.Hour, "")

	// auction config
	pflag.Duration("auction-payment-grace-period", 48*time.Hour, "")
	pflag.Bool("auction-reoffer", true, "")
	pflag.Bool("auction-allow-self-outbid", false, "")
	pflag.Int("auction-max-submit-retries", 3, "")
	pflag.Duration("auction-close-sweep-interval", 10*time.Second, "")
	pflag.Duration("auction-expire-sweep-interval", time.Minute, "")
	pflag.Int("auction-sweep-batch", 64, "")

	// bind pflag to viper
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("HAMMER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// initial arguments
	return Args{
		ServerURL: viper.GetString("server-url"),
		ServerConfig: api.ServerConfig{
			ID: viper.GetString("node-id"),
			DB: api.DBConfig{
				User:     viper.GetString("db-user"),
				Password: viper.GetString("db-password"),
				Host:     viper.GetString("db-host"),
				Port:     viper.GetInt("db-port"),
				Database: viper.GetString("db-database"),
				Schema:   viper.GetString("db-schema"),
			},
			Redis: api.RedisConfig{
				Addr:          viper.GetString("redis-addr"),
				Password:      viper.GetString("redis-password"),
				DB:            viper.GetInt("redis-db"),
				KeyPrefix:     viper.GetString("redis-key-prefix"),
				ConsumerGroup: viper.GetString("redis-consumer-group"),
				LockExpiry:    viper.GetDuration("redis-lock-expiry"),
				StreamKeys: api.RedisStreamKeys{
					Events: viper.GetString("redis-stream-key-for-events"),
				},
			},
			Auth: api.AuthConfig{
				PrivateKey:     parsePrivateKey(viper.GetString("auth-private-key")),
				Issuer:         viper.GetString("auth-issuer"),
				Audience:       viper.GetString("auth-audience"),
				ExpireDuration: viper.GetDuration("auth-expire-duration"),
			},
			Auction: api.AuctionConfig{
				PaymentGracePeriod:  viper.GetDuration("auction-payment-grace-period"),
				Reoffer:             viper.GetBool("auction-reoffer"),
				AllowSelfOutbid:     viper.GetBool("auction-allow-self-outbid"),
				MaxSubmitRetries:    viper.GetInt("auction-max-submit-retries"),
				CloseSweepInterval:  viper.GetDuration("auction-close-sweep-interval"),
				ExpireSweepInterval: viper.GetDuration("auction-expire-sweep-interval"),
				SweepBatch:          viper.GetInt("auction-sweep-batch"),
			},
		},
	}
}

// parsePrivateKey 將base64編碼的ed25519 seed還原成私鑰
// 解析失敗時回傳nil，由Args.Validate擋下
func parsePrivateKey(encoded string) ed25519.PrivateKey {
	seed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil
	}
	return ed25519.NewKeyFromSeed(seed)
}

type Args struct {
	ServerURL    string
	ServerConfig api.ServerConfig
}

func (args Args) Validate() bool {
	return args.ServerURL != "" &&
		args.ServerConfig.DB.Host != "" &&
		args.ServerConfig.Redis.Addr != "" &&
		args.ServerConfig.Auth.PrivateKey != nil
}
