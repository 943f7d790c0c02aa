package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/synapnet/go-validator-node/api"
	"github.com/synapnet/go-validator-node/chain"
	"github.com/synapnet/go-validator-node/consensus"
	"github.com/synapnet/go-validator-node/coordination"
	"github.com/synapnet/go-validator-node/dispatch"
	"github.com/synapnet/go-validator-node/entities"
	"github.com/synapnet/go-validator-node/incentive"
	"github.com/synapnet/go-validator-node/infrastructure/store/pebbledb"
	"github.com/synapnet/go-validator-node/infrastructure/store/redisdb"
	"github.com/synapnet/go-validator-node/kafka"
	"github.com/synapnet/go-validator-node/metrics"
	"github.com/synapnet/go-validator-node/phaseclock"
	"github.com/synapnet/go-validator-node/scoring"
	"github.com/synapnet/go-validator-node/validator"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const prefix = "SYNAPNET_VALIDATOR"

func main() {
	if err := run(); err != nil {
		log.Fatalf("main: exited with error: %s", err.Error())
	}
}

func run() error {
	config := zap.NewProductionConfig()
	// this is just for sugar, to display a readable date instead of an epoch time
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.DateTime)

	logger, err := config.Build()
	if err != nil {
		return fmt.Errorf("creating logger: %v", err)
	}
	defer logger.Sync()
	sLogger := logger.Sugar()

	var cfg struct {
		ValidatorUID        string `conf:"default:validator-1"`
		KeySeed             string `conf:"optional,noprint"`
		RegistryFile        string `conf:"default:registry.json"`
		InternalStoreFolder string `conf:"default:store"`
		ServerListenAddr    string `conf:"default:0.0.0.0:8000"`
		MetricsListenAddr   string `conf:"default:0.0.0.0:9999"`
		MetricsNamespace    string `conf:"default:synapnet_validator"`
		Timing              struct {
			EpochStart           int64         `conf:"default:1756512000"` // unix seconds, network-wide constant
			TaskAssignmentTime   time.Duration `conf:"default:30s"`
			ConsensusScoringTime time.Duration `conf:"default:120s"`
			MetagraphUpdateTime  time.Duration `conf:"default:60s"`
			PhaseBuffer          time.Duration `conf:"default:10s"`
		}
		Coordination struct {
			Backend           string        `conf:"default:pebble"` // pebble or redis
			RedisAddr         string        `conf:"default:localhost:6379"`
			MajorityThreshold int           `conf:"default:2"`
			PollInterval      time.Duration `conf:"default:4s"`
			Freshness         time.Duration `conf:"default:10m"`
			RetentionSlots    uint64        `conf:"default:10"`
			Flexible          bool          `conf:"default:false"`
			MidSlotJoin       bool          `conf:"default:false"`
		}
		Dispatch struct {
			MinersPerSlot int           `conf:"default:10"`
			BatchSize     int           `conf:"default:5"`
			TaskTimeout   time.Duration `conf:"default:60s"`
			MaxRounds     int           `conf:"default:3"`
			SendTimeout   time.Duration `conf:"default:5s"`
		}
		Kafka struct {
			Enabled          bool     `conf:"default:false"`
			BootstrapServers []string `conf:"default:localhost:9092"`
			RoundsTopic      string   `conf:"default:synapnet-consensus-rounds"`
		}
	}

	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %v", err)
			}
			fmt.Println(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config version: %v", err)
			}
			fmt.Println(version)
			return nil
		}
		return fmt.Errorf("parsing config: %v", err)
	}

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %v", err)
	}
	log.Printf("main: Config :\n%v\n", out)

	clock, err := phaseclock.NewClock(phaseclock.Config{
		EpochStart: time.Unix(cfg.Timing.EpochStart, 0),
		PhaseDurations: map[entities.Phase]time.Duration{
			entities.PhaseTaskAssignment:   cfg.Timing.TaskAssignmentTime,
			entities.PhaseConsensusScoring: cfg.Timing.ConsensusScoringTime,
			entities.PhaseMetagraphUpdate:  cfg.Timing.MetagraphUpdateTime,
		},
		PhaseBuffer: cfg.Timing.PhaseBuffer,
	})
	if err != nil {
		return errors.Wrap(err, "creating phase clock")
	}

	var identity *consensus.Identity
	if cfg.KeySeed != "" {
		identity, err = consensus.IdentityFromSeed(cfg.ValidatorUID, cfg.KeySeed)
	} else {
		log.Printf("[WARN] main: no key seed configured, generating an ephemeral identity.")
		identity, err = consensus.NewIdentity(cfg.ValidatorUID)
	}
	if err != nil {
		return errors.Wrap(err, "creating identity")
	}
	sLogger.Infow("validator identity", "uid", cfg.ValidatorUID, "address", identity.Address())

	localStore, err := pebbledb.NewStore(cfg.InternalStoreFolder, cfg.Coordination.Freshness)
	if err != nil {
		return errors.Wrap(err, "creating local store")
	}
	defer localStore.Close()

	var coordStore coordination.Store
	var recent coordination.RecentLister
	switch cfg.Coordination.Backend {
	case "redis":
		redisStore := redisdb.NewStore(redis.NewClient(&redis.Options{Addr: cfg.Coordination.RedisAddr}),
			cfg.Coordination.Freshness, time.Duration(cfg.Coordination.RetentionSlots+1)*clock.SlotDuration())
		coordStore, recent = redisStore, redisStore
	case "pebble":
		coordStore, recent = localStore, localStore
	default:
		return fmt.Errorf("unknown coordination backend [%s]", cfg.Coordination.Backend)
	}

	coordCfg := coordination.Config{
		ValidatorUID:      cfg.ValidatorUID,
		MajorityThreshold: cfg.Coordination.MajorityThreshold,
		PollInterval:      cfg.Coordination.PollInterval,
		RetentionSlots:    cfg.Coordination.RetentionSlots,
		MidSlotJoin:       cfg.Coordination.MidSlotJoin,
	}
	var coordinator coordination.Coordinator
	if cfg.Coordination.Flexible || cfg.Coordination.MidSlotJoin {
		coordinator = coordination.NewFlexibleCoordinator(coordCfg, clock, coordStore, recent, sLogger)
	} else {
		coordinator = coordination.NewSlotCoordinator(coordCfg, clock, coordStore, sLogger)
	}

	chainClient, err := chain.NewRegistryClient(cfg.RegistryFile, sLogger)
	if err != nil {
		return errors.Wrap(err, "creating chain client")
	}

	engine := scoring.NewEngine(scoring.DefaultConfig(cfg.ValidatorUID), scoring.ChallengeBaseline{}, sLogger)
	aggregator := consensus.NewAggregator(consensus.DefaultAggregatorConfig(cfg.ValidatorUID), sLogger)
	defer aggregator.Stop()

	appMetrics := metrics.NewMetrics(cfg.MetricsNamespace)

	buffer := dispatch.NewResultBuffer()
	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		ValidatorUID:  cfg.ValidatorUID,
		MinersPerSlot: cfg.Dispatch.MinersPerSlot,
		BatchSize:     cfg.Dispatch.BatchSize,
		TaskTimeout:   cfg.Dispatch.TaskTimeout,
		MaxRounds:     cfg.Dispatch.MaxRounds,
	}, dispatch.NewHTTPSender(cfg.Dispatch.SendTimeout), validator.NewInstrumentedScorer(engine, appMetrics), buffer, sLogger)

	var publisher validator.RoundPublisher
	if cfg.Kafka.Enabled {
		m := kprom.NewMetrics(cfg.MetricsNamespace,
			kprom.Registerer(prometheus.DefaultRegisterer),
			kprom.Gatherer(prometheus.DefaultGatherer))
		kcl, err := kgo.NewClient(
			kgo.WithHooks(m),
			kgo.DefaultProduceTopic(cfg.Kafka.RoundsTopic),
			kgo.SeedBrokers(cfg.Kafka.BootstrapServers...),
			kgo.ProducerBatchCompression(kgo.ZstdCompression()),
		)
		if err != nil {
			return errors.Wrap(err, "creating kafka client")
		}
		defer kcl.Close()
		publisher = kafka.NewRoundProducer(kcl)
	}

	nodeCfg := validator.DefaultConfig(cfg.ValidatorUID)
	nodeCfg.RetentionSlots = cfg.Coordination.RetentionSlots
	node, err := validator.NewNode(nodeCfg, validator.Dependencies{
		Clock:       clock,
		Coordinator: coordinator,
		Store:       coordStore,
		Dispatcher:  dispatcher,
		Engine:      engine,
		Aggregator:  aggregator,
		Broadcaster: consensus.NewBroadcaster(cfg.Dispatch.SendTimeout, sLogger),
		Incentives:  incentive.NewEngine(incentive.DefaultConfig(), engine, sLogger),
		Identity:    identity,
		ChainClient: chainClient,
		Submitter:   chain.NewSubmitter(chainClient, 30*time.Second, sLogger),
		Publisher:   publisher,
		Local:       localStore,
		Metrics:     appMetrics,
	}, sLogger)
	if err != nil {
		return errors.Wrap(err, "creating validator node")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodeError := make(chan error, 1)
	go func() {
		nodeError <- node.Run(ctx)
	}()

	apiServer := api.NewServer(aggregator, buffer, node, sLogger)
	mux := http.NewServeMux()
	apiServer.RegisterRoutes(mux)

	serverError := make(chan error, 1)
	go func() {
		log.Printf("main: Starting api server on addr [%s].", cfg.ServerListenAddr)
		serverError <- http.ListenAndServe(cfg.ServerListenAddr, mux)
	}()

	metricsError := make(chan error, 1)
	go func() {
		log.Printf("main: Starting metrics endpoint on addr [%s].", cfg.MetricsListenAddr)
		http.Handle("/metrics", promhttp.Handler())
		metricsError <- http.ListenAndServe(cfg.MetricsListenAddr, nil)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	log.Println("main: Service started.")

	select {
	case <-shutdown:
		log.Println("main: Received shutdown signal, shutting down...")
		cancel()
		return nil
	case err := <-nodeError:
		return fmt.Errorf("running validator node: %v", err)
	case err := <-serverError:
		return fmt.Errorf("starting api server: %v", err)
	case err := <-metricsError:
		return fmt.Errorf("starting metrics server: %v", err)
	}
}
