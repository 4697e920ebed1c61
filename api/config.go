package api

import (
	"crypto/ed25519"
	"time"
)

type ServerConfig struct {
	// ID 節點在notification consumer group中的識別名稱
	ID string

	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Auction AuctionConfig
}

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix 所有redis鍵值的前綴，用於多環境共用同一個redis
	KeyPrefix     string
	ConsumerGroup string
	LockExpiry    time.Duration

	StreamKeys RedisStreamKeys
}

type RedisStreamKeys struct {
	Events string
}

type AuthConfig struct {
	PrivateKey     ed25519.PrivateKey
	Issuer         string
	Audience       string
	ExpireDuration time.Duration
}

type AuctionConfig struct {
	// PaymentGracePeriod 拍賣結束後得標者的付款期限
	PaymentGracePeriod time.Duration
	// Reoffer 得標請求過期後是否遞補給次高出價者
	Reoffer bool
	// AllowSelfOutbid 是否允許目前領先者追加自己的出價
	AllowSelfOutbid bool
	// MaxSubmitRetries 出價寫入發生版本衝突時的內部重試上限
	MaxSubmitRetries int

	CloseSweepInterval  time.Duration
	ExpireSweepInterval time.Duration
	SweepBatch          int
}
