package tests

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/safakadir/digital-banking/pkg/inbox"
	"github.com/safakadir/digital-banking/pkg/testsuite"
	"github.com/safakadir/digital-banking/pkg/txstore"
	"github.com/safakadir/digital-banking/services/query/internal/cache"
	"github.com/safakadir/digital-banking/services/query/internal/service"
	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

type IntegrationTestSuite struct {
	testsuite.BaseSuite

	RedisContainer    *tcredis.RedisContainer
	Redis             *redis.Client
	Store             *txstore.Postgres
	Cache             cache.BalanceCache
	ProjectionService service.ProjectionService
	QueryService      service.QueryService
}

func (s *IntegrationTestSuite) SetupSuite() {
	s.BaseSuite.SetupInfrastructure("../migrations")

	var err error
	s.RedisContainer, err = tcredis.Run(s.Ctx, "redis:7-alpine")
	s.Require().NoError(err)

	connStr, err := s.RedisContainer.ConnectionString(s.Ctx)
	s.Require().NoError(err)

	opts, err := redis.ParseURL(connStr)
	s.Require().NoError(err)
	s.Redis = redis.NewClient(opts)

	logger := zap.NewNop()
	s.Store = txstore.NewPostgres(s.DbPool, logger)
	s.Cache = cache.NewRedisBalanceCache(s.Redis, time.Minute, logger)
	processor := inbox.NewProcessor(s.Store, "query-service", time.Hour, logger)
	s.ProjectionService = service.NewProjectionService(s.Store, processor, s.Cache, logger)
	s.QueryService = service.NewCachedQueryService(service.NewQueryService(s.Store, logger), s.Cache)
}

func (s *IntegrationTestSuite) TearDownSuite() {
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.RedisContainer != nil {
		if err := s.RedisContainer.Terminate(s.Ctx); err != nil {
			s.T().Logf("Failed to terminate redis container: %v", err)
		}
	}
	s.BaseSuite.TearDownInfrastructure()
}

func (s *IntegrationTestSuite) SetupTest() {
	s.BaseSuite.TruncateTables("inbox", "account_projections", "balances", "transactions")
	s.Require().NoError(s.Redis.FlushAll(s.Ctx).Err())
}

func TestIntegrationSuite(t *testing.T) {
	suite.Run(t, new(IntegrationTestSuite))
}
