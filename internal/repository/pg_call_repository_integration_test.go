package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"teledoom/internal/repository"
)

// CallRepositorySuite поднимает PostgreSQL в контейнере и гоняет репозиторий
// журнала звонков против настоящей БД.
type CallRepositorySuite struct {
	suite.Suite
	ctx         context.Context
	pgContainer *postgres.PostgresContainer
	pool        *pgxpool.Pool
	repo        repository.CallRepository
}

func (s *CallRepositorySuite) SetupSuite() {
	s.ctx = context.Background()

	var err error
	s.pgContainer, err = postgres.Run(s.ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("teledoom_test"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start postgres container")

	dsn, err := s.pgContainer.ConnectionString(s.ctx, "sslmode=disable")
	require.NoError(s.T(), err, "Failed to get postgres connection string")

	s.pool, err = pgxpool.New(s.ctx, dsn)
	require.NoError(s.T(), err, "Failed to connect to test postgres")

	require.NoError(s.T(), repository.ApplyMigrations(dsn, zap.NewNop()), "Failed to run migrations")

	s.repo = repository.NewPgCallRepository(s.pool, zap.NewNop())
}

func (s *CallRepositorySuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.pgContainer != nil {
		_ = s.pgContainer.Terminate(s.ctx)
	}
}

func (s *CallRepositorySuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, "TRUNCATE TABLE calls")
	require.NoError(s.T(), err)
}

func (s *CallRepositorySuite) TestCreateAndListRecent() {
	err := s.repo.Create(s.ctx, &repository.CallRecord{
		ChannelID:    "chan-1",
		CallerNumber: "+442079460958",
		Disposition:  repository.DispositionAnswered,
	})
	s.Require().NoError(err)

	records, err := s.repo.ListRecent(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal("chan-1", records[0].ChannelID)
	s.Equal("+442079460958", records[0].CallerNumber)
	s.Equal(repository.DispositionAnswered, records[0].Disposition)
	s.Nil(records[0].EndedAt)
	s.NotZero(records[0].ID)
}

func (s *CallRepositorySuite) TestSetDisposition() {
	err := s.repo.Create(s.ctx, &repository.CallRecord{
		ChannelID:    "chan-1",
		CallerNumber: "+442079460958",
		Disposition:  repository.DispositionAnswered,
	})
	s.Require().NoError(err)

	s.Require().NoError(s.repo.SetDisposition(s.ctx, "chan-1", repository.DispositionPlayed))

	records, err := s.repo.ListRecent(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(repository.DispositionPlayed, records[0].Disposition)
}

func (s *CallRepositorySuite) TestFinish() {
	err := s.repo.Create(s.ctx, &repository.CallRecord{
		ChannelID:    "chan-1",
		CallerNumber: "+442079460958",
		Disposition:  repository.DispositionAnswered,
	})
	s.Require().NoError(err)

	s.Require().NoError(s.repo.Finish(s.ctx, "chan-1", time.Now()))

	records, err := s.repo.ListRecent(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Require().NotNil(records[0].EndedAt)
}

func (s *CallRepositorySuite) TestDispositionNotUpdatedAfterFinish() {
	err := s.repo.Create(s.ctx, &repository.CallRecord{
		ChannelID:    "chan-1",
		CallerNumber: "+442079460958",
		Disposition:  repository.DispositionAnswered,
	})
	s.Require().NoError(err)
	s.Require().NoError(s.repo.Finish(s.ctx, "chan-1", time.Now()))

	// Звонок завершен: исход больше не меняется
	s.Require().NoError(s.repo.SetDisposition(s.ctx, "chan-1", repository.DispositionPlayed))

	records, err := s.repo.ListRecent(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(repository.DispositionAnswered, records[0].Disposition)
}

func (s *CallRepositorySuite) TestListRecentOrderAndLimit() {
	for _, channelID := range []string{"chan-1", "chan-2", "chan-3"} {
		err := s.repo.Create(s.ctx, &repository.CallRecord{
			ChannelID:    channelID,
			CallerNumber: "+442079460958",
			Disposition:  repository.DispositionAnswered,
		})
		s.Require().NoError(err)
		time.Sleep(10 * time.Millisecond)
	}

	records, err := s.repo.ListRecent(s.ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(records, 2)
	s.Equal("chan-3", records[0].ChannelID)
	s.Equal("chan-2", records[1].ChannelID)
}

func TestCallRepositorySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	suite.Run(t, new(CallRepositorySuite))
}
