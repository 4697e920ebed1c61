package api

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"hammer/adapters/notify"
	redisAdapter "hammer/adapters/redis"
	"hammer/adapters/sse"
	"hammer/engine"
	"hammer/store"
)

type ServerImpl struct {
	db          *gorm.DB
	redisClient *redis.Client
	store       *store.Store

	ledger     *engine.Ledger
	scheduler  *engine.Scheduler
	settlement *engine.Settlement
	admin      *engine.Admin

	producer   redisAdapter.IProducer[notify.Event]
	hub        *sse.Hub[notify.Event]
	dispatcher *notify.Dispatcher

	config ServerConfig
}

func NewServer(config ServerConfig) (*ServerImpl, error) {
	const op = "NewServer"

	// 初始化資料庫連線
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s", config.DB.User, config.DB.Password, config.DB.Host, config.DB.Port, config.DB.Database, config.DB.Schema)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: config.DB.Schema + ".",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}
	dataStore, err := store.NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create store, err=%w", op, err)
	}
	if err := dataStore.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("[%s] Fail to migrate database, err=%w", op, err)
	}

	// 初始化Redis連線
	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})

	// 初始化事件producer與通知閘道
	producer, err := redisAdapter.NewProducer[notify.Event](
		redisClient,
		config.Redis.StreamKeys.Events,
		redisAdapter.WithProducerLogger[notify.Event](slog.Default()),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create producer, err=%w", op, err)
	}
	gateway, err := notify.NewGateway(producer)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create notification gateway, err=%w", op, err)
	}

	// 初始化出價引擎
	locks := newRedisLockProvider(redisClient, config.Redis.KeyPrefix, config.Redis.LockExpiry)
	ledger, err := engine.NewLedger(
		dataStore, locks, gateway,
		engine.WithLedgerLogger(slog.Default()),
		engine.WithLedgerMaxRetries(config.Auction.MaxSubmitRetries),
		engine.WithLedgerAllowSelfOutbid(config.Auction.AllowSelfOutbid),
		engine.WithLedgerLockKeyPrefix(config.Redis.KeyPrefix+"auction:"),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create ledger, err=%w", op, err)
	}

	// 初始化結算協調器與關閉排程器
	settlement, err := engine.NewSettlement(
		dataStore, dataStore, gateway,
		engine.WithSettlementLogger(slog.Default()),
		engine.WithSettlementGracePeriod(config.Auction.PaymentGracePeriod),
		engine.WithSettlementReoffer(config.Auction.Reoffer),
		engine.WithSettlementSweepInterval(config.Auction.ExpireSweepInterval),
		engine.WithSettlementSweepBatch(config.Auction.SweepBatch),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create settlement coordinator, err=%w", op, err)
	}
	scheduler, err := engine.NewScheduler(
		dataStore, settlement,
		engine.WithSchedulerLogger(slog.Default()),
		engine.WithSchedulerSweepInterval(config.Auction.CloseSweepInterval),
		engine.WithSchedulerSweepBatch(config.Auction.SweepBatch),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create scheduler, err=%w", op, err)
	}
	admin, err := engine.NewAdmin(dataStore, dataStore, settlement, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create admin service, err=%w", op, err)
	}

	// 初始化SSE hub，事件從stream讀入後依主題廣播
	consumer, err := redisAdapter.NewConsumer(
		redisClient,
		config.Redis.StreamKeys.Events,
		redisAdapter.WithConsumerDecodeFunc(func(m map[string]any) (sse.Envelope[notify.Event], error) {
			event, err := redisAdapter.DecodeMessage[notify.Event](m)
			if err != nil {
				return sse.Envelope[notify.Event]{}, fmt.Errorf("fail to decode event for sse, err=%w", err)
			}
			return sse.Envelope[notify.Event]{
				Topic:   eventTopic(event),
				Message: event,
			}, nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create consumer, err=%w", op, err)
	}
	hub := sse.NewHub[notify.Event](
		sse.WithHubLogger[notify.Event](slog.Default()),
		sse.WithHubSource[notify.Event](consumer),
	)

	// 初始化通知派送worker
	groupConsumer, err := redisAdapter.NewGroupConsumer[notify.Event](
		redisClient,
		config.Redis.StreamKeys.Events,
		config.Redis.ConsumerGroup,
		config.ID,
		redisAdapter.WithGroupConsumerLogger[notify.Event](slog.Default()),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create group consumer, err=%w", op, err)
	}
	dispatcher, err := notify.NewDispatcher(
		groupConsumer,
		notify.WithDispatcherLogger(slog.Default()),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create dispatcher, err=%w", op, err)
	}

	return &ServerImpl{
		db:          db,
		redisClient: redisClient,
		store:       dataStore,
		ledger:      ledger,
		scheduler:   scheduler,
		settlement:  settlement,
		admin:       admin,
		producer:    producer,
		hub:         hub,
		dispatcher:  dispatcher,
		config:      config,
	}, nil
}

// eventTopic 決定事件在SSE hub中的廣播主題
// 廣播事件以拍賣ID為主題，個人通知以使用者ID為主題
func eventTopic(event notify.Event) string {
	if event.Broadcast() {
		return event.AuctionID.String()
	}
	return "user:" + event.RecipientID.String()
}

func (impl *ServerImpl) Start() {
	// 啟動事件producer
	impl.producer.Start()
	// 啟動SSE hub(內部會啟動stream consumer)
	impl.hub.Start()
	// 啟動通知派送worker
	if err := impl.dispatcher.Start(); err != nil {
		slog.Error("Fail to start notification dispatcher", slog.Any("error", err))
	}
	// 啟動拍賣關閉排程器與結算過期sweep
	impl.scheduler.Start()
	impl.settlement.Start()
}

func (impl *ServerImpl) Close() {
	// 先停止背景worker，避免關閉producer後還有事件要發布
	impl.scheduler.Close()
	impl.settlement.Close()
	if err := impl.dispatcher.Close(); err != nil {
		slog.Error("Fail to close notification dispatcher", slog.Any("error", err))
	}
	impl.hub.Done()
	impl.producer.Close()
	if err := impl.redisClient.Close(); err != nil {
		slog.Error("Fail to close redis client", slog.Any("error", err))
	}
}
